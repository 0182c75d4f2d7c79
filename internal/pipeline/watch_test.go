package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"github.com/rs/zerolog"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

type fakeWatcher struct {
	mu      sync.Mutex
	history uint64
	err     error
	topics  []string
	labels  []string
	stopped int
}

func (f *fakeWatcher) Watch(ctx context.Context, topic string, labels []string) (model.WatchRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.WatchRegistration{}, f.err
	}
	f.topics = append(f.topics, topic)
	f.labels = labels
	return model.WatchRegistration{Topic: topic, HistoryID: f.history, Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

func (f *fakeWatcher) StopWatch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.err
}

func (f *fakeWatcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

func newTestRegistrar(w *fakeWatcher, cursors CursorStore, topic string) *Registrar {
	open := func(ctx context.Context, account string) (Watcher, error) { return w, nil }
	return NewRegistrar(open, cursors, WatchConfig{Topic: topic}, zerolog.Nop())
}

func TestRegisterSeedsCursor(t *testing.T) {
	w := &fakeWatcher{history: 500}
	ledger := &memLedger{}
	r := newTestRegistrar(w, ledger, "projects/acme/topics/gmail-notifications")

	reg, err := r.Register(context.Background(), " me@example.com ")
	be.Err(t, err, nil)
	be.Equal(t, reg.Account, "me@example.com")
	be.Equal(t, reg.HistoryID, uint64(500))
	be.Equal(t, reg.PreviousCursor, uint64(0))
	be.Equal(t, w.labels, []string{"INBOX"})
	be.Equal(t, ledger.cursors["me@example.com"], uint64(500))

	// A later registration reports the old cursor and never rewinds it.
	w.history = 400
	reg, err = r.Register(context.Background(), "me@example.com")
	be.Err(t, err, nil)
	be.Equal(t, reg.PreviousCursor, uint64(500))
	be.Equal(t, ledger.cursors["me@example.com"], uint64(500))
}

func TestRegisterRejectsBadInput(t *testing.T) {
	w := &fakeWatcher{history: 1}

	_, err := newTestRegistrar(w, nil, "projects/acme/topics/t").Register(context.Background(), "  ")
	be.Equal(t, apperr.Classify(err), apperr.KindInput)

	_, err = newTestRegistrar(w, nil, "").Register(context.Background(), "me@example.com")
	be.Equal(t, apperr.Classify(err), apperr.KindInput)
	be.Equal(t, w.calls(), 0)
}

func TestRegisterCredentialFailure(t *testing.T) {
	open := func(ctx context.Context, account string) (Watcher, error) {
		return nil, &apperr.CredentialError{Account: account, Missing: []string{"refresh token"}}
	}
	ledger := &memLedger{}
	r := NewRegistrar(open, ledger, WatchConfig{Topic: "projects/acme/topics/t"}, zerolog.Nop())

	_, err := r.Register(context.Background(), "me@example.com")
	be.Equal(t, apperr.Classify(err), apperr.KindCredential)
	be.Equal(t, len(ledger.cursors), 0)
}

func TestStopWatch(t *testing.T) {
	w := &fakeWatcher{}
	r := newTestRegistrar(w, nil, "projects/acme/topics/t")

	be.Err(t, r.Stop(context.Background(), "me@example.com"), nil)
	be.Equal(t, w.stopped, 1)
}

func TestRenewRegistersEveryAccount(t *testing.T) {
	w := &fakeWatcher{history: 9}
	ledger := &memLedger{}
	r := newTestRegistrar(w, ledger, "projects/acme/topics/t")

	r.Renew(context.Background(), []string{"a@example.com", "b@example.com"}, 0)
	be.Equal(t, w.calls(), 2)
	be.Equal(t, ledger.cursors["b@example.com"], uint64(9))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Renew(ctx, []string{"a@example.com"}, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for w.calls() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	be.True(t, w.calls() >= 5)
}
