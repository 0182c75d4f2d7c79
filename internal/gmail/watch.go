package gmail

import (
	"context"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"replydraft/internal/model"
)

// Watch asks Gmail to publish changes to the given labels on topic. The
// returned history id is where notifications start; when Gmail omits it the
// mailbox's current cursor is used.
func (s *Session) Watch(ctx context.Context, topic string, labels []string) (model.WatchRegistration, error) {
	var resp *gmailv1.WatchResponse
	err := s.call("watch", func() error {
		var err error
		resp, err = s.svc.Users.Watch("me", &gmailv1.WatchRequest{
			TopicName:           topic,
			LabelIds:            labels,
			LabelFilterBehavior: "include",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return model.WatchRegistration{}, err
	}
	reg := model.WatchRegistration{Account: s.account, Topic: topic, HistoryID: resp.HistoryId}
	if resp.Expiration > 0 {
		reg.Expiration = time.UnixMilli(resp.Expiration).UTC()
	}
	if reg.HistoryID == 0 {
		if reg.HistoryID, err = s.CurrentCursor(ctx); err != nil {
			return model.WatchRegistration{}, err
		}
	}
	s.log.Info().Str("topic", topic).Uint64("history_id", reg.HistoryID).Time("expiration", reg.Expiration).Msg("watch registered")
	return reg, nil
}

// StopWatch cancels push notifications for the mailbox.
func (s *Session) StopWatch(ctx context.Context) error {
	return s.call("stop watch", func() error {
		return s.svc.Users.Stop("me").Context(ctx).Do()
	})
}
