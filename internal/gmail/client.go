package gmail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"replydraft/internal/apperr"
)

// Scopes requested for every account: read, compose drafts, modify labels.
var Scopes = []string{
	gmailv1.GmailReadonlyScope,
	gmailv1.GmailComposeScope,
	gmailv1.GmailModifyScope,
}

// DefaultProcessedLabel is the user label that marks a message as handled.
const DefaultProcessedLabel = "replydraft/processed"

// ServiceFactory builds an authorized Gmail service for one account.
type ServiceFactory func(ctx context.Context, account string) (*gmailv1.Service, error)

// TokenSourceFunc resolves an OAuth token source for an account.
type TokenSourceFunc func(ctx context.Context, account string) (oauth2.TokenSource, error)

// ServiceFromTokens returns a ServiceFactory backed by per-account token sources.
func ServiceFromTokens(tokens TokenSourceFunc, opts ...option.ClientOption) ServiceFactory {
	return func(ctx context.Context, account string) (*gmailv1.Service, error) {
		ts, err := tokens(ctx, account)
		if err != nil {
			return nil, err
		}
		all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
		svc, err := gmailv1.NewService(ctx, all...)
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return svc, nil
	}
}

// Config tunes the Gmail client.
type Config struct {
	ProcessedLabel string
	// BreakerTimeout is how long the breaker stays open before retrying.
	BreakerTimeout time.Duration
}

// Client opens per-run sessions against Gmail. It is safe for concurrent use;
// the only state shared between sessions is the circuit breaker.
type Client struct {
	newService ServiceFactory
	cb         *gobreaker.CircuitBreaker
	label      string
	log        zerolog.Logger
}

// NewClient wires a Client around a service factory.
func NewClient(newService ServiceFactory, cfg Config, log zerolog.Logger) *Client {
	if cfg.ProcessedLabel == "" {
		cfg.ProcessedLabel = DefaultProcessedLabel
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	log = log.With().Str("component", "gmail").Logger()
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Client{
		newService: newService,
		cb:         gobreaker.NewCircuitBreaker(settings),
		label:      cfg.ProcessedLabel,
		log:        log,
	}
}

// Open starts a session for one account. A session caches the processed
// label id and must not outlive the run that opened it.
func (c *Client) Open(ctx context.Context, account string) (*Session, error) {
	svc, err := c.newService(ctx, account)
	if err != nil {
		return nil, err
	}
	return &Session{
		svc:       svc,
		cb:        c.cb,
		account:   account,
		labelName: c.label,
		log:       c.log.With().Str("account", account).Logger(),
	}, nil
}

// Session is the per-run view of one mailbox.
type Session struct {
	svc       *gmailv1.Service
	cb        *gobreaker.CircuitBreaker
	account   string
	labelName string
	log       zerolog.Logger

	mu      sync.Mutex
	labelID string
}

// nonCircuitError carries client-side failures through the breaker without
// counting them against it.
type nonCircuitError struct{ err error }

func (e *nonCircuitError) Error() string { return e.err.Error() }

// call runs fn behind the circuit breaker. Only throttling and server errors
// count as breaker failures.
func (s *Session) call(op string, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && !apperr.IsRetryableStatus(apiErr.Code) {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	if apperr.Classify(err) == apperr.KindTransient {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) Account() string { return s.account }
