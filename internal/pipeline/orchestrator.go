// Package pipeline drives one notification from resolution to a stored
// draft and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"replydraft/internal/apperr"
	"replydraft/internal/compose"
	"replydraft/internal/filter"
	"replydraft/internal/model"
	"replydraft/internal/retrieval"
)

// Mailbox is everything a run needs from one account's mailbox.
type Mailbox interface {
	Resolve(ctx context.Context, messageRef string, cursor uint64) (model.Message, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)
	ThreadHasDraft(ctx context.Context, threadID string) (bool, error)
	CreateDraft(ctx context.Context, d model.Draft) (string, error)
	MarkProcessed(ctx context.Context, messageID string) error
	ListUnread(ctx context.Context, labels []string, max int) ([]string, error)
}

// Opener starts a per-run mailbox session for an account.
type Opener interface {
	Open(ctx context.Context, account string) (Mailbox, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, account string) (Mailbox, error)

func (f OpenerFunc) Open(ctx context.Context, account string) (Mailbox, error) {
	return f(ctx, account)
}

// Retriever returns ranked context for a query. It never fails.
type Retriever interface {
	Retrieve(ctx context.Context, query string) []model.ContextSnippet
}

// Composer produces a reply body.
type Composer interface {
	Compose(ctx context.Context, msg model.Message, snippets []model.ContextSnippet) (string, error)
}

// Ledger records outcomes and cursors. Ledger errors are logged, never fatal.
type Ledger interface {
	RecordOutcome(ctx context.Context, o model.Outcome) error
	AdvanceCursor(ctx context.Context, account string, cursor uint64) error
}

// Config tunes the orchestrator.
type Config struct {
	RunTimeout    time.Duration
	IgnoreSenders []string
	// FallbackBatch is how many unread messages a cursor notification with no
	// additions falls back to. Zero disables the fallback.
	FallbackBatch int
	// Concurrency bounds parallel message runs in batch mode.
	Concurrency int
}

// Orchestrator is safe for concurrent use; runs share only immutable
// dependencies and the ledger.
type Orchestrator struct {
	open     Opener
	retrieve Retriever
	compose  Composer
	ledger   Ledger
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// New wires an Orchestrator. ledger may be nil.
func New(open Opener, retrieve Retriever, composer Composer, ledger Ledger, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Orchestrator{
		open:     open,
		retrieve: retrieve,
		compose:  composer,
		ledger:   ledger,
		cfg:      cfg,
		log:      log.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
}

// stageKind tags the result of one stage.
type stageKind int

const (
	proceed stageKind = iota
	skipped
	failed
)

type stageResult struct {
	kind   stageKind
	reason string
	err    error
}

func proceedResult() stageResult           { return stageResult{kind: proceed} }
func skipResult(reason string) stageResult { return stageResult{kind: skipped, reason: reason} }
func failResult(err error) stageResult     { return stageResult{kind: failed, err: err} }

// run carries the state of one message through the stages.
type run struct {
	out      model.Outcome
	mb       Mailbox
	msg      model.Message
	account  string
	filter   *filter.Filter
	snippets []model.ContextSnippet
	body     string
	log      zerolog.Logger
}

func (r *run) enter(s model.State) {
	r.out.State = s
	r.log.Debug().Str("state", string(s)).Msg("transition")
}

// HandleNotification runs the full pipeline for one push notification.
// The returned outcome is always terminal.
func (o *Orchestrator) HandleNotification(ctx context.Context, n model.Notification) model.Outcome {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	r := o.newRun(n.AccountID)
	r.log = r.log.With().Str("message_ref", n.MessageRef).Uint64("cursor", n.Cursor).Logger()
	defer o.finish(ctx, r)

	r.enter(model.StateResolving)
	if n.AccountID == "" {
		o.fail(r, &apperr.InputError{Msg: "notification has no account"})
		return r.out
	}
	if !n.HasReference() {
		o.fail(r, apperr.ErrMissingReference)
		return r.out
	}
	mb, err := o.open.Open(ctx, n.AccountID)
	if err != nil {
		o.fail(r, err)
		return r.out
	}
	r.mb = mb

	msg, err := mb.Resolve(ctx, n.MessageRef, n.Cursor)
	if n.Cursor != 0 && o.ledger != nil {
		if lerr := o.ledger.AdvanceCursor(ctx, n.AccountID, n.Cursor); lerr != nil {
			r.log.Warn().Err(lerr).Msg("record cursor")
		}
	}
	if errors.Is(err, apperr.ErrNotFound) && n.MessageRef == "" && o.cfg.FallbackBatch > 0 {
		o.fallback(ctx, r, err)
		return r.out
	}
	if err != nil {
		o.fail(r, fmt.Errorf("resolve: %w", err))
		return r.out
	}
	r.msg = msg
	r.filter = filter.New(mb, filter.Options{IgnoreSenders: o.cfg.IgnoreSenders})
	o.process(ctx, r)
	return r.out
}

func (o *Orchestrator) newRun(account string) *run {
	id := uuid.NewString()
	return &run{
		out: model.Outcome{
			RunID:     id,
			AccountID: account,
			StartedAt: o.now(),
		},
		account: account,
		log:     o.log.With().Str("run_id", id).Str("account", account).Logger(),
	}
}

// process runs FILTERING through MUTATING for a resolved message.
func (o *Orchestrator) process(ctx context.Context, r *run) {
	r.out.MessageID = r.msg.ID
	r.out.ThreadID = r.msg.ThreadID
	r.out.Subject = r.msg.Subject()
	r.out.From = r.msg.From()
	r.log = r.log.With().Str("message_id", r.msg.ID).Str("thread_id", r.msg.ThreadID).Logger()

	stages := []struct {
		state model.State
		fn    func(context.Context, *run) stageResult
	}{
		{model.StateFiltering, o.filterStage},
		{model.StateRetrieving, o.retrieveStage},
		{model.StateComposing, o.composeStage},
		{model.StateMutating, o.mutateStage},
	}
	for _, st := range stages {
		r.enter(st.state)
		res := st.fn(ctx, r)
		switch res.kind {
		case skipped:
			r.out.Reason = res.reason
			r.enter(model.StateSkipped)
			return
		case failed:
			o.fail(r, res.err)
			return
		}
	}
	r.enter(model.StateDone)
}

func (o *Orchestrator) filterStage(ctx context.Context, r *run) stageResult {
	d, err := r.filter.Decide(ctx, r.msg, r.account)
	if err != nil {
		return failResult(fmt.Errorf("check existing drafts: %w", err))
	}
	if !d.Process {
		return skipResult(d.Reason)
	}
	return proceedResult()
}

func (o *Orchestrator) retrieveStage(ctx context.Context, r *run) stageResult {
	if o.retrieve != nil {
		r.snippets = o.retrieve.Retrieve(ctx, retrieval.Query(r.msg))
	}
	return proceedResult()
}

func (o *Orchestrator) composeStage(ctx context.Context, r *run) stageResult {
	body, err := o.compose.Compose(ctx, r.msg, r.snippets)
	if err != nil {
		return failResult(err)
	}
	r.body = body
	return proceedResult()
}

func (o *Orchestrator) mutateStage(ctx context.Context, r *run) stageResult {
	draft, err := compose.Assemble(r.body, r.account, r.msg)
	if err != nil {
		return failResult(err)
	}

	// Another run may have finished this message while we were generating.
	if fresh, err := r.mb.GetMessage(ctx, r.msg.ID); err == nil && fresh.Has(model.FlagProcessed) {
		return skipResult(filter.ReasonAlreadyProcessed)
	}
	if r.filter.ChecksDrafts() {
		has, err := r.mb.ThreadHasDraft(ctx, r.msg.ThreadID)
		if err != nil {
			return failResult(fmt.Errorf("check existing drafts: %w", err))
		}
		if has {
			return skipResult(filter.ReasonDraftExists)
		}
	}

	draftID, err := r.mb.CreateDraft(ctx, draft)
	if err != nil {
		return failResult(fmt.Errorf("create draft: %w", err))
	}
	r.out.DraftID = draftID
	r.log.Info().Str("draft_id", draftID).Int("snippets", len(r.snippets)).Msg("draft created")

	if err := r.mb.MarkProcessed(ctx, r.msg.ID); err != nil {
		w := &apperr.PartialSuccessWarning{What: "mark processed", Err: err}
		r.out.Warning = w.Error()
		r.log.Warn().Err(err).Msg("draft created but processed marker not written")
	}
	return proceedResult()
}

func (o *Orchestrator) fail(r *run, err error) {
	kind := apperr.Classify(err)
	r.out.Err = err
	r.out.Permanent = kind.Permanent()
	r.enter(model.StateFailed)
	ev := r.log.Error()
	if r.out.Permanent {
		ev = r.log.Warn()
	}
	ev.Err(err).Str("kind", kind.String()).Bool("permanent", r.out.Permanent).Msg("run failed")
}

// fallback handles a cursor notification that resolved to nothing by running
// a small batch over current unread messages.
func (o *Orchestrator) fallback(ctx context.Context, r *run, notFound error) {
	r.log.Info().Int("max", o.cfg.FallbackBatch).Msg("no added message in history; processing recent unread")
	res, err := o.processBatch(ctx, r.mb, BatchRequest{
		Account:            r.account,
		MaxEmails:          o.cfg.FallbackBatch,
		LabelFilter:        DefaultLabelFilter,
		SkipExistingDrafts: true,
	})
	if err != nil {
		o.fail(r, fmt.Errorf("resolve: %w", err))
		return
	}
	for _, item := range res.Results {
		if item.Success {
			r.out.MessageID = item.MessageID
			r.out.Subject = item.Subject
			r.out.From = item.FromAddress
			r.out.DraftID = item.DraftID
			r.out.Warning = fmt.Sprintf("resolved by unread fallback: %d succeeded, %d failed", res.Succeeded, res.Failed)
			r.enter(model.StateDone)
			return
		}
	}
	if res.Failed > 0 {
		o.fail(r, apperr.Transient("unread fallback", fmt.Errorf("%d of %d messages failed", res.Failed, res.Processed)))
		return
	}
	o.fail(r, fmt.Errorf("resolve: %w", notFound))
}

// finish stamps the end time and writes the outcome to the ledger.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.out.EndedAt = o.now()
	ev := r.log.Info().Str("state", string(r.out.State)).Dur("elapsed", r.out.EndedAt.Sub(r.out.StartedAt))
	if r.out.Reason != "" {
		ev = ev.Str("reason", r.out.Reason)
	}
	ev.Msg("run finished")
	if o.ledger == nil {
		return
	}
	// The run context may already be expired; the record must still land.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.ledger.RecordOutcome(lctx, r.out); err != nil {
		r.log.Warn().Err(err).Msg("record outcome")
	}
}
