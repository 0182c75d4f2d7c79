package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

// Watcher registers and cancels push notifications for one mailbox.
type Watcher interface {
	Watch(ctx context.Context, topic string, labels []string) (model.WatchRegistration, error)
	StopWatch(ctx context.Context) error
}

// WatcherOpener starts a session able to manage an account's watch.
type WatcherOpener func(ctx context.Context, account string) (Watcher, error)

// CursorStore is the part of the ledger a registration seeds.
type CursorStore interface {
	GetCursor(ctx context.Context, account string) (uint64, error)
	AdvanceCursor(ctx context.Context, account string, cursor uint64) error
}

// WatchConfig names the topic and labels mailbox changes are published for.
type WatchConfig struct {
	Topic  string
	Labels []string
}

// Registrar keeps Gmail push registrations alive and seeds the history
// cursor each one starts from.
type Registrar struct {
	open    WatcherOpener
	cursors CursorStore
	cfg     WatchConfig
	log     zerolog.Logger
}

// NewRegistrar wires a Registrar. cursors may be nil.
func NewRegistrar(open WatcherOpener, cursors CursorStore, cfg WatchConfig, log zerolog.Logger) *Registrar {
	if len(cfg.Labels) == 0 {
		cfg.Labels = []string{string(model.FlagInbox)}
	}
	return &Registrar{open: open, cursors: cursors, cfg: cfg, log: log.With().Str("component", "watch").Logger()}
}

// Register (re)creates the push registration for account. The ledger cursor
// only moves forward, so re-registering never rewinds it.
func (r *Registrar) Register(ctx context.Context, account string) (model.WatchRegistration, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return model.WatchRegistration{}, &apperr.InputError{Msg: "email is required"}
	}
	if r.cfg.Topic == "" {
		return model.WatchRegistration{}, &apperr.InputError{Msg: "no notification topic configured"}
	}
	w, err := r.open(ctx, account)
	if err != nil {
		return model.WatchRegistration{}, err
	}
	reg, err := w.Watch(ctx, r.cfg.Topic, r.cfg.Labels)
	if err != nil {
		return model.WatchRegistration{}, err
	}
	reg.Account = account
	log := r.log.With().Str("account", account).Logger()

	if r.cursors != nil {
		prev, err := r.cursors.GetCursor(ctx, account)
		if err != nil {
			log.Warn().Err(err).Msg("could not read stored cursor")
		}
		reg.PreviousCursor = prev
		if err := r.cursors.AdvanceCursor(ctx, account, reg.HistoryID); err != nil {
			log.Warn().Err(err).Msg("could not seed cursor")
		}
	}
	log.Info().Uint64("history_id", reg.HistoryID).Uint64("previous", reg.PreviousCursor).Time("expiration", reg.Expiration).Msg("watch registered")
	return reg, nil
}

// Stop cancels push notifications for account.
func (r *Registrar) Stop(ctx context.Context, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return &apperr.InputError{Msg: "email is required"}
	}
	w, err := r.open(ctx, account)
	if err != nil {
		return err
	}
	if err := w.StopWatch(ctx); err != nil {
		return err
	}
	r.log.Info().Str("account", account).Msg("watch stopped")
	return nil
}

// Renew registers every account now and again every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (r *Registrar) Renew(ctx context.Context, accounts []string, every time.Duration) {
	registerAll := func() {
		for _, a := range accounts {
			if _, err := r.Register(ctx, a); err != nil {
				r.log.Error().Err(err).Str("account", a).Str("kind", apperr.Classify(err).String()).Msg("watch renewal failed")
			}
		}
	}
	registerAll()
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registerAll()
		}
	}
}
