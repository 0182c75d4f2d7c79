package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// WrapPayload returns raw unchanged when it is already a push envelope and
// otherwise treats it as the decoded data object and wraps it in one.
func WrapPayload(raw []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if _, ok := fields["message"]; ok {
		return raw, nil
	}
	var env PushEnvelope
	env.Message.Data = base64.StdEncoding.EncodeToString(raw)
	env.Message.MessageID = "replay"
	env.Subscription = "replay"
	return json.Marshal(env)
}

// Replay posts a stored payload to a push endpoint and returns the response
// status and body.
func Replay(ctx context.Context, client *http.Client, endpoint string, raw []byte) (int, []byte, error) {
	body, err := WrapPayload(raw)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, out, fmt.Errorf("replay rejected: %s", resp.Status)
	}
	return resp.StatusCode, out, nil
}
