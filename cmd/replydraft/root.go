package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"replydraft/internal/compose"
	"replydraft/internal/config"
	"replydraft/internal/credentials"
	"replydraft/internal/gmail"
	"replydraft/internal/llm"
	"replydraft/internal/logging"
	"replydraft/internal/pipeline"
	"replydraft/internal/retrieval"
	"replydraft/internal/store"
	"replydraft/internal/vectorindex"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "replydraft",
		Short: "Draft Gmail replies from a knowledge base",
		Long: `replydraft watches Gmail push notifications and leaves a reply draft on every
new eligible message, grounded in documents ingested into a local vector index.

Examples:
  replydraft serve
  replydraft ingest --source docs/kb --index-endpoint ./kb.db --deployed-index-id support-docs
  replydraft process-unread --email me@example.com --max 10
  replydraft replay --endpoint http://localhost:8080/pubsub/push --payload push.json
  replydraft runs --account me@example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default replydraft.yaml in . or ~/.config/replydraft)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format override (json, console)")

	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newProcessUnreadCmd(a),
		newReplayCmd(a),
		newRunsCmd(a),
		newAuthCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Log.Level, cfg.Log.Format)
	return nil
}

func (a *app) credentials() *credentials.Resolver {
	g := a.cfg.Gmail
	return credentials.NewResolver(credentials.Config{
		ClientSecretFile: g.ClientSecretFile,
		ClientID:         g.ClientID,
		ClientSecret:     g.ClientSecret,
		TokenURI:         g.TokenURI,
		TokenFile:        g.TokenFile,
		AllowAmbient:     g.AllowAmbient,
		RefreshTimeout:   g.RefreshTimeout,
	}, a.log)
}

func (a *app) llm() *llm.Client {
	c := a.cfg.LLM
	return llm.NewClient(llm.Config{
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		Model:          c.Model,
		EmbeddingModel: c.EmbeddingModel,
		Temperature:    c.Temperature,
		Timeout:        c.Timeout,
		MaxRetries:     c.MaxRetries,
	})
}

// closers collects cleanup for resources opened while wiring.
type closers []func() error

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

// orchestrator wires the full pipeline. The ledger is returned separately so
// callers can serve it; it is nil if the ledger could not be opened, since
// the ledger only observes runs.
func (a *app) orchestrator() (*pipeline.Orchestrator, *store.Store, closers) {
	var cl closers

	ledger, err := store.Open(a.cfg.LedgerDSN)
	if err != nil {
		a.log.Warn().Err(err).Str("dsn", a.cfg.LedgerDSN).Msg("run ledger unavailable; continuing without it")
		ledger = nil
	} else {
		cl = append(cl, ledger.Close)
	}

	gen := a.llm()
	var retr pipeline.Retriever
	if a.cfg.RetrievalEnabled() {
		idx, err := vectorindex.Open(a.cfg.Index.Endpoint, a.cfg.Index.DeployedIndexID)
		if err != nil {
			// Retrieval is fail-open; drafts are still produced without context.
			a.log.Warn().Err(err).Msg("vector index unavailable; drafting without context")
		} else {
			cl = append(cl, idx.Close)
			retr = retrieval.New(gen, idx, a.log)
		}
	}

	mail := a.mailClient()
	open := pipeline.OpenerFunc(func(ctx context.Context, account string) (pipeline.Mailbox, error) {
		s, err := mail.Open(ctx, account)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	var led pipeline.Ledger
	if ledger != nil {
		led = ledger
	}
	orch := pipeline.New(open, retr, compose.New(gen), led, pipeline.Config{
		RunTimeout:    a.cfg.Pipeline.RunTimeout,
		IgnoreSenders: a.cfg.Pipeline.IgnoreSenders,
		FallbackBatch: a.cfg.Pipeline.FallbackBatch,
		Concurrency:   a.cfg.Pipeline.Concurrency,
	}, a.log)
	return orch, ledger, cl
}

func (a *app) mailClient() *gmail.Client {
	return gmail.NewClient(
		gmail.ServiceFromTokens(a.credentials().TokenSource),
		gmail.Config{ProcessedLabel: a.cfg.Gmail.ProcessedLabel},
		a.log,
	)
}

// registrar wires watch management, or returns nil when no notification
// topic is configured. ledger may be nil.
func (a *app) registrar(ledger *store.Store) *pipeline.Registrar {
	topic := a.cfg.WatchTopic()
	if topic == "" {
		return nil
	}
	mail := a.mailClient()
	open := func(ctx context.Context, account string) (pipeline.Watcher, error) {
		s, err := mail.Open(ctx, account)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	var cursors pipeline.CursorStore
	if ledger != nil {
		cursors = ledger
	}
	return pipeline.NewRegistrar(open, cursors, pipeline.WatchConfig{Topic: topic, Labels: a.cfg.Watch.Labels}, a.log)
}

// shutdown stops srv within timeout.
func shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
