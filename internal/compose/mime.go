package compose

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
	"replydraft/internal/util"
)

// ReplySubject prefixes "Re: " unless the subject already starts with "Re:".
func ReplySubject(original string) string {
	original = sanitizeHeader(original)
	if original == "" {
		original = "No Subject"
	}
	if strings.HasPrefix(original, "Re:") {
		return original
	}
	return "Re: " + original
}

// ThreadReference returns the id the reply points at: the original
// Message-ID header, or a synthesized id derived from the mailbox message id.
func ThreadReference(msg model.Message) string {
	if id := normalizeMessageID(msg.Header("Message-ID")); id != "" {
		return id
	}
	return fmt.Sprintf("<%s@mail.gmail.com>", msg.ID)
}

// Assemble builds the RFC 5322 reply from account to the sender of msg.
func Assemble(body, account string, msg model.Message) (model.Draft, error) {
	if strings.TrimSpace(body) == "" {
		return model.Draft{}, apperr.ErrEmptyGeneration
	}
	to := util.ReplyAddress(msg.From())
	if to == "" {
		to = account
	}
	ref := ThreadReference(msg)

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: account}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(ReplySubject(msg.Subject()))
	h.Set("In-Reply-To", ref)
	h.Set("References", ref)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return model.Draft{}, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return model.Draft{}, fmt.Errorf("create mime writer: %w", err)
	}
	if _, err := io.WriteString(w, normalizeBody(body)); err != nil {
		return model.Draft{}, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return model.Draft{}, fmt.Errorf("close mime writer: %w", err)
	}
	return model.Draft{ThreadID: msg.ThreadID, MIME: buf.Bytes()}, nil
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}

func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(strings.TrimSpace(body), "\n", "\r\n")
}

func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		return value
	}
	return "<" + strings.Trim(value, "<>") + ">"
}
