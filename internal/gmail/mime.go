package gmail

import (
	"encoding/base64"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	gmailv1 "google.golang.org/api/gmail/v1"

	"replydraft/internal/model"
)

// toPart copies a Gmail payload into an immutable Part tree with decoded bodies.
func toPart(p *gmailv1.MessagePart) model.Part {
	if p == nil {
		return model.Part{}
	}
	out := model.Part{MimeType: strings.ToLower(p.MimeType)}
	if p.Body != nil && p.Body.Data != "" {
		out.BodyData = decodeBase64URL(p.Body.Data)
	}
	for _, sub := range p.Parts {
		out.Children = append(out.Children, toPart(sub))
	}
	return out
}

// ExtractBody returns readable text for a message: the first text/plain body
// in depth-first order, else the first text/html body converted to text, else
// the snippet.
func ExtractBody(root model.Part, snippet string) string {
	if body := findBody(root, "text/plain"); body != "" {
		return body
	}
	if html := findBody(root, "text/html"); html != "" {
		if text := htmlToText(html); text != "" {
			return text
		}
	}
	return snippet
}

// findBody walks the tree depth-first. Within a multipart node, direct
// children of the wanted type win over deeper matches.
func findBody(p model.Part, mime string) string {
	if p.MimeType == mime && p.BodyData != "" {
		return p.BodyData
	}
	for _, sub := range p.Children {
		if sub.MimeType == mime && sub.BodyData != "" {
			return sub.BodyData
		}
	}
	for _, sub := range p.Children {
		if body := findBody(sub, mime); body != "" {
			return body
		}
	}
	return ""
}

func htmlToText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err == nil {
		if md = strings.TrimSpace(md); md != "" {
			return md
		}
	}
	return stripHTMLTags(html)
}

// stripHTMLTags removes HTML tags and decodes common entities to produce readable text.
func stripHTMLTags(html string) string {
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</tr>", "</li>"} {
		html = strings.ReplaceAll(html, tag, "\n")
		html = strings.ReplaceAll(html, strings.ToUpper(tag), "\n")
	}

	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	result := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(b.String())

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(result)
}

func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail uses unpadded base64url
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

// toMessage converts a full-format Gmail message. processedLabelID may be
// empty when the account has no processed label yet.
func toMessage(m *gmailv1.Message, processedLabelID string) model.Message {
	msg := model.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Flags:    make(map[model.Flag]bool, len(m.LabelIds)),
		Headers:  make(map[string]string),
		Snippet:  m.Snippet,
	}
	for _, l := range m.LabelIds {
		switch {
		case processedLabelID != "" && l == processedLabelID:
			msg.Flags[model.FlagProcessed] = true
		default:
			msg.Flags[model.Flag(l)] = true
		}
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			key := strings.ToLower(h.Name)
			if _, seen := msg.Headers[key]; !seen {
				msg.Headers[key] = h.Value
			}
		}
		msg.BodyText = ExtractBody(toPart(m.Payload), m.Snippet)
	} else {
		msg.BodyText = m.Snippet
	}
	return msg
}
