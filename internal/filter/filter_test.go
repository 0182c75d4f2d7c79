package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"replydraft/internal/model"
)

type stubDrafts struct {
	has   bool
	err   error
	calls int
}

func (s *stubDrafts) ThreadHasDraft(ctx context.Context, threadID string) (bool, error) {
	s.calls++
	return s.has, s.err
}

func message(from string, flags ...model.Flag) model.Message {
	m := model.Message{
		ID:       "m1",
		ThreadID: "t1",
		Flags:    map[model.Flag]bool{},
		Headers:  map[string]string{"from": from},
	}
	for _, f := range flags {
		m.Flags[f] = true
	}
	return m
}

func TestDecideGuardOrder(t *testing.T) {
	const account = "me@example.com"
	tests := []struct {
		name   string
		msg    model.Message
		drafts *stubDrafts
		want   Decision
	}{
		{"archived", message("a@x.com", model.FlagUnread), &stubDrafts{}, Decision{Reason: ReasonNotInInbox}},
		{"read", message("a@x.com", model.FlagInbox), &stubDrafts{}, Decision{Reason: ReasonNotUnread}},
		{"draft", message("a@x.com", model.FlagInbox, model.FlagUnread, model.FlagDraft), &stubDrafts{}, Decision{Reason: ReasonIsDraft}},
		{"sent", message("a@x.com", model.FlagInbox, model.FlagUnread, model.FlagSent), &stubDrafts{}, Decision{Reason: ReasonIsSent}},
		{"processed", message("a@x.com", model.FlagInbox, model.FlagUnread, model.FlagProcessed), &stubDrafts{}, Decision{Reason: ReasonAlreadyProcessed}},
		{"self", message("Me <ME@example.com>", model.FlagInbox, model.FlagUnread), &stubDrafts{}, Decision{Reason: ReasonSelfAuthored}},
		{"existing draft", message("a@x.com", model.FlagInbox, model.FlagUnread), &stubDrafts{has: true}, Decision{Reason: ReasonDraftExists}},
		{"eligible", message("a@x.com", model.FlagInbox, model.FlagUnread), &stubDrafts{}, Decision{Process: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.drafts, Options{}).Decide(context.Background(), tt.msg, account)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDraftLookupOnlyForEligibleMessages(t *testing.T) {
	drafts := &stubDrafts{}
	f := New(drafts, Options{})
	_, _ = f.Decide(context.Background(), message("a@x.com", model.FlagUnread), "me@example.com")
	if drafts.calls != 0 {
		t.Fatalf("draft lookup ran for a skipped message")
	}
}

func TestDraftLookupFailureIsNotNoDraft(t *testing.T) {
	boom := errors.New("backend unavailable")
	f := New(&stubDrafts{err: boom}, Options{})
	_, err := f.Decide(context.Background(), message("a@x.com", model.FlagInbox, model.FlagUnread), "me@example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error to surface, got %v", err)
	}
}

func TestSkipDraftCheck(t *testing.T) {
	drafts := &stubDrafts{has: true}
	f := New(drafts, Options{SkipDraftCheck: true})
	got, err := f.Decide(context.Background(), message("a@x.com", model.FlagInbox, model.FlagUnread), "me@example.com")
	if err != nil || !got.Process || drafts.calls != 0 {
		t.Fatalf("expected process without lookup, got %+v err=%v calls=%d", got, err, drafts.calls)
	}
}

func TestIgnoreSenders(t *testing.T) {
	f := New(&stubDrafts{}, Options{IgnoreSenders: []string{"@noreply.example.com", "Bot+x@Tools.io"}})
	ctx := context.Background()
	cases := map[string]string{
		"Alerts <alerts@noreply.example.com>": ReasonIgnoredSender,
		"bot@tools.io":                        ReasonIgnoredSender,
		"person@example.com":                  "",
	}
	for from, want := range cases {
		got, err := f.Decide(ctx, message(from, model.FlagInbox, model.FlagUnread), "me@example.com")
		if err != nil {
			t.Fatalf("Decide(%q): %v", from, err)
		}
		if got.Reason != want {
			t.Fatalf("Decide(%q) reason %q, want %q", from, got.Reason, want)
		}
	}
}

func TestProperty_NotInInboxDominates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("missing INBOX always yields not_in_inbox", prop.ForAll(
		func(unread, draft, sent, processed, self, hasDraft bool) bool {
			flags := []model.Flag{}
			if unread {
				flags = append(flags, model.FlagUnread)
			}
			if draft {
				flags = append(flags, model.FlagDraft)
			}
			if sent {
				flags = append(flags, model.FlagSent)
			}
			if processed {
				flags = append(flags, model.FlagProcessed)
			}
			from := "other@example.com"
			if self {
				from = "me@example.com"
			}
			drafts := &stubDrafts{has: hasDraft}
			d, err := New(drafts, Options{}).Decide(context.Background(), message(from, flags...), "me@example.com")
			return err == nil && !d.Process && d.Reason == ReasonNotInInbox && drafts.calls == 0
		},
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("processed messages are never processed again", prop.ForAll(
		func(unread, draft, sent bool) bool {
			flags := []model.Flag{model.FlagInbox, model.FlagProcessed}
			if unread {
				flags = append(flags, model.FlagUnread)
			}
			if draft {
				flags = append(flags, model.FlagDraft)
			}
			if sent {
				flags = append(flags, model.FlagSent)
			}
			d, err := New(&stubDrafts{}, Options{}).Decide(context.Background(), message("a@x.com", flags...), "me@example.com")
			return err == nil && !d.Process
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}
