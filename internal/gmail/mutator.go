package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"

	"replydraft/internal/model"
)

// CreateDraft stores the draft in the mailbox, attached to its thread, and
// returns the mailbox-assigned draft id.
func (s *Session) CreateDraft(ctx context.Context, d model.Draft) (string, error) {
	user := "me"
	req := &gmailv1.Draft{
		Message: &gmailv1.Message{
			Raw:      base64.URLEncoding.EncodeToString(d.MIME),
			ThreadId: d.ThreadID,
		},
	}
	var created *gmailv1.Draft
	err := s.call("create draft", func() error {
		var err error
		created, err = s.svc.Users.Drafts.Create(user, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// MarkProcessed adds the processed label and removes UNREAD in a single
// modify call.
func (s *Session) MarkProcessed(ctx context.Context, messageID string) error {
	labelID, err := s.processedLabelID(ctx, true)
	if err != nil {
		return err
	}
	user := "me"
	req := &gmailv1.ModifyMessageRequest{
		AddLabelIds:    []string{labelID},
		RemoveLabelIds: []string{string(model.FlagUnread)},
	}
	return s.call("mark processed "+messageID, func() error {
		_, err := s.svc.Users.Messages.Modify(user, messageID, req).Context(ctx).Do()
		return err
	})
}

// ThreadHasDraft reports whether any existing draft belongs to threadID.
func (s *Session) ThreadHasDraft(ctx context.Context, threadID string) (bool, error) {
	if threadID == "" {
		return false, nil
	}
	user := "me"
	call := s.svc.Users.Drafts.List(user).MaxResults(500)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		var resp *gmailv1.ListDraftsResponse
		err := s.call("list drafts", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return false, err
		}
		for _, d := range resp.Drafts {
			if d.Message != nil && d.Message.ThreadId == threadID {
				return true, nil
			}
		}
		if resp.NextPageToken == "" {
			return false, nil
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// ListUnread returns up to max message ids carrying all of labels, newest first.
func (s *Session) ListUnread(ctx context.Context, labels []string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	user := "me"
	call := s.svc.Users.Messages.List(user).LabelIds(labels...).MaxResults(int64(max))
	ids := make([]string, 0, max)
	for len(ids) < max {
		var resp *gmailv1.ListMessagesResponse
		err := s.call("list messages", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return ids, err
		}
		for _, m := range resp.Messages {
			if len(ids) == max {
				break
			}
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		call = call.PageToken(resp.NextPageToken)
	}
	return ids, nil
}

// processedLabelID returns the id of the processed label, creating it when
// create is set. The id is cached for the life of the session.
func (s *Session) processedLabelID(ctx context.Context, create bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labelID != "" {
		return s.labelID, nil
	}
	id, err := s.findLabel(ctx)
	if err != nil {
		return "", err
	}
	if id == "" && create {
		id, err = s.createLabel(ctx)
		if err != nil {
			// Another run may have created it concurrently.
			if again, lerr := s.findLabel(ctx); lerr == nil && again != "" {
				id, err = again, nil
			}
		}
		if err != nil {
			return "", err
		}
		s.log.Info().Str("label", s.labelName).Str("label_id", id).Msg("created processed label")
	}
	s.labelID = id
	return id, nil
}

func (s *Session) findLabel(ctx context.Context) (string, error) {
	var resp *gmailv1.ListLabelsResponse
	err := s.call("list labels", func() error {
		var err error
		resp, err = s.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, s.labelName) {
			return l.Id, nil
		}
	}
	return "", nil
}

func (s *Session) createLabel(ctx context.Context) (string, error) {
	label := &gmailv1.Label{
		Name:                  s.labelName,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	var created *gmailv1.Label
	err := s.call("create label", func() error {
		var err error
		created, err = s.svc.Users.Labels.Create("me", label).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ensure label %q: %w", s.labelName, err)
	}
	return created.Id, nil
}
