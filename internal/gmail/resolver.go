package gmail

import (
	"context"
	"fmt"

	gmailv1 "google.golang.org/api/gmail/v1"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

// Resolve turns a notification's hint into one fully fetched message. A
// message reference is fetched directly; otherwise the change history after
// cursor is paged in order and the first added message is returned.
func (s *Session) Resolve(ctx context.Context, messageRef string, cursor uint64) (model.Message, error) {
	if messageRef == "" {
		if cursor == 0 {
			return model.Message{}, apperr.ErrMissingReference
		}
		id, err := s.FirstAddedSince(ctx, cursor)
		if err != nil {
			return model.Message{}, err
		}
		messageRef = id
	}
	return s.GetMessage(ctx, messageRef)
}

// FirstAddedSince pages through messageAdded history records after cursor and
// returns the id of the first added message. It returns apperr.ErrNotFound
// when the history holds no additions.
func (s *Session) FirstAddedSince(ctx context.Context, cursor uint64) (string, error) {
	user := "me"
	call := s.svc.Users.History.List(user).
		StartHistoryId(cursor).
		HistoryTypes("messageAdded").
		MaxResults(500)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		var resp *gmailv1.ListHistoryResponse
		err := s.call("history list", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return "", err
		}
		for _, h := range resp.History {
			for _, ma := range h.MessagesAdded {
				if ma.Message != nil && ma.Message.Id != "" {
					return ma.Message.Id, nil
				}
			}
		}
		if resp.NextPageToken == "" {
			return "", fmt.Errorf("history after %d: %w", cursor, apperr.ErrNotFound)
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// GetMessage fetches a message in full format and maps it onto the model.
func (s *Session) GetMessage(ctx context.Context, id string) (model.Message, error) {
	user := "me"
	var raw *gmailv1.Message
	err := s.call("get message "+id, func() error {
		var err error
		raw, err = s.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return model.Message{}, err
	}
	labelID, err := s.processedLabelID(ctx, false)
	if err != nil {
		return model.Message{}, err
	}
	return toMessage(raw, labelID), nil
}

// CurrentCursor returns the mailbox's latest history id.
func (s *Session) CurrentCursor(ctx context.Context) (uint64, error) {
	var hid uint64
	err := s.call("get profile", func() error {
		profile, err := s.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		hid = profile.HistoryId
		return nil
	})
	return hid, err
}
