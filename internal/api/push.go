package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

// PushEnvelope is the body a push subscription delivers.
type PushEnvelope struct {
	Message struct {
		Attributes map[string]string `json:"attributes"`
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushData is the decoded data field. historyId arrives as a number from
// Gmail and as a string from some replay tooling.
type pushData struct {
	EmailAddress string    `json:"emailAddress"`
	MessageID    string    `json:"messageId"`
	HistoryID    historyID `json:"historyId"`
}

type historyID uint64

func (h *historyID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*h = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("historyId %q: %w", s, err)
	}
	*h = historyID(v)
	return nil
}

const pushDataSchema = `{
  "type": "object",
  "required": ["emailAddress"],
  "properties": {
    "emailAddress": {"type": "string", "minLength": 3, "pattern": "@"},
    "messageId": {"type": "string"},
    "historyId": {
      "oneOf": [
        {"type": "integer", "minimum": 0},
        {"type": "string", "pattern": "^[0-9]+$"}
      ]
    }
  }
}`

var pushSchema = mustCompile("push-data.json", pushDataSchema)

func mustCompile(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// DecodePush turns a raw push body into a Notification. Every failure is an
// *apperr.InputError.
func DecodePush(body []byte) (model.Notification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Notification{}, &apperr.InputError{Msg: "push envelope: " + err.Error()}
	}
	if env.Message.Data == "" {
		return model.Notification{}, &apperr.InputError{Msg: "push envelope has no data"}
	}
	raw, err := decodeData(env.Message.Data)
	if err != nil {
		return model.Notification{}, &apperr.InputError{Msg: "push data is not base64: " + err.Error()}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return model.Notification{}, &apperr.InputError{Msg: "push data is not JSON: " + err.Error()}
	}
	if err := pushSchema.Validate(inst); err != nil {
		return model.Notification{}, &apperr.InputError{Msg: "push data: " + err.Error()}
	}

	var d pushData
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.Notification{}, &apperr.InputError{Msg: "push data: " + err.Error()}
	}
	return model.Notification{
		AccountID:  strings.TrimSpace(d.EmailAddress),
		MessageRef: strings.TrimSpace(d.MessageID),
		Cursor:     uint64(d.HistoryID),
		Attributes: env.Message.Attributes,
	}, nil
}

// decodeData accepts standard and URL-safe base64, padded or not.
func decodeData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return nil, err
}
