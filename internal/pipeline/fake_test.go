package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

// fakeMailbox is an in-memory mailbox shared by every session it opens, so
// state survives across redeliveries like a real account.
type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[string]model.Message
	added     []string // history additions after any cursor
	drafts    []model.Draft
	markErr   error
	listErr   error
	openErr   error
	markCalls int
}

func newFakeMailbox(msgs ...model.Message) *fakeMailbox {
	f := &fakeMailbox{messages: make(map[string]model.Message)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMailbox) Open(ctx context.Context, account string) (Mailbox, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *fakeMailbox) Resolve(ctx context.Context, ref string, cursor uint64) (model.Message, error) {
	if ref == "" {
		if cursor == 0 {
			return model.Message{}, apperr.ErrMissingReference
		}
		f.mu.Lock()
		if len(f.added) == 0 {
			f.mu.Unlock()
			return model.Message{}, apperr.ErrNotFound
		}
		ref = f.added[0]
		f.mu.Unlock()
	}
	return f.GetMessage(ctx, ref)
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return model.Message{}, apperr.ErrNotFound
	}
	flags := make(map[model.Flag]bool, len(m.Flags))
	for k, v := range m.Flags {
		flags[k] = v
	}
	m.Flags = flags
	return m, nil
}

func (f *fakeMailbox) ThreadHasDraft(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return false, f.listErr
	}
	for _, d := range f.drafts {
		if d.ThreadID == threadID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMailbox) CreateDraft(ctx context.Context, d model.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.DraftID = "draft-" + d.ThreadID
	f.drafts = append(f.drafts, d)
	return d.DraftID, nil
}

func (f *fakeMailbox) MarkProcessed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	if f.markErr != nil {
		return f.markErr
	}
	m := f.messages[id]
	m.Flags[model.FlagProcessed] = true
	delete(m.Flags, model.FlagUnread)
	f.messages[id] = m
	return nil
}

func (f *fakeMailbox) ListUnread(ctx context.Context, labels []string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, m := range f.messages {
		ok := true
		for _, l := range labels {
			if !m.Flags[model.Flag(l)] {
				ok = false
			}
		}
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (f *fakeMailbox) draftCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drafts)
}

type stubComposer struct {
	out   string
	err   error
	calls int
	seen  []model.ContextSnippet
	mu    sync.Mutex
}

func (s *stubComposer) Compose(ctx context.Context, msg model.Message, snippets []model.ContextSnippet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = snippets
	if s.err != nil {
		return "", s.err
	}
	if s.out == "" {
		return "", apperr.ErrEmptyGeneration
	}
	return s.out, nil
}

type stubRetriever struct {
	snippets []model.ContextSnippet
}

func (s stubRetriever) Retrieve(ctx context.Context, query string) []model.ContextSnippet {
	return s.snippets
}

type memLedger struct {
	mu       sync.Mutex
	outcomes []model.Outcome
	cursors  map[string]uint64
}

func (l *memLedger) RecordOutcome(ctx context.Context, o model.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
	return nil
}

func (l *memLedger) AdvanceCursor(ctx context.Context, account string, cursor uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursors == nil {
		l.cursors = map[string]uint64{}
	}
	if cursor > l.cursors[account] {
		l.cursors[account] = cursor
	}
	return nil
}

func (l *memLedger) GetCursor(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursors[account], nil
}

var errBackend = errors.New("backend unavailable")

func inboxMessage(id, thread, from string) model.Message {
	return model.Message{
		ID:       id,
		ThreadID: thread,
		Flags:    map[model.Flag]bool{model.FlagInbox: true, model.FlagUnread: true},
		Headers: map[string]string{
			"from":       from,
			"to":         "me@example.com",
			"subject":    "Question about pricing",
			"message-id": "<" + id + "@mail.example.com>",
		},
		BodyText: "Hi, how much does the team plan cost?",
	}
}
