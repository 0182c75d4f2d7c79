package pipeline

import (
	"context"
	"fmt"
	"sync"

	"replydraft/internal/apperr"
	"replydraft/internal/filter"
	"replydraft/internal/model"
)

// Bounds and defaults for manual batch runs.
const (
	MinBatch     = 1
	MaxBatch     = 50
	DefaultBatch = 20
)

// DefaultLabelFilter selects unread inbox messages.
var DefaultLabelFilter = []string{string(model.FlagUnread), string(model.FlagInbox)}

// BatchRequest asks for drafts on up to MaxEmails messages matching LabelFilter.
type BatchRequest struct {
	Account            string
	MaxEmails          int
	LabelFilter        []string
	SkipExistingDrafts bool
}

// Validate applies defaults and checks bounds.
func (req *BatchRequest) Validate() error {
	if req.Account == "" {
		return &apperr.InputError{Msg: "email is required"}
	}
	if req.MaxEmails == 0 {
		req.MaxEmails = DefaultBatch
	}
	if req.MaxEmails < MinBatch || req.MaxEmails > MaxBatch {
		return &apperr.InputError{Msg: fmt.Sprintf("max_emails must be between %d and %d", MinBatch, MaxBatch)}
	}
	if len(req.LabelFilter) == 0 {
		req.LabelFilter = DefaultLabelFilter
	}
	return nil
}

// BatchItem is the per-message result of a batch run.
type BatchItem struct {
	MessageID   string `json:"message_id"`
	Subject     string `json:"subject"`
	FromAddress string `json:"from_address"`
	Success     bool   `json:"success"`
	DraftID     string `json:"draft_id,omitempty"`
	Skipped     string `json:"skipped,omitempty"`
	Warning     string `json:"warning,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchResult aggregates a batch run. Processed counts messages that reached
// generation (Succeeded + Failed); skipped messages are counted separately.
type BatchResult struct {
	Email      string      `json:"email"`
	TotalFound int         `json:"total_found"`
	Processed  int         `json:"processed"`
	Succeeded  int         `json:"succeeded"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Results    []BatchItem `json:"results"`
}

// ProcessUnread runs the per-message pipeline over the account's unread
// messages. Only failures that affect the whole batch (credentials, listing)
// are returned as errors; per-message failures are reported in the result.
func (o *Orchestrator) ProcessUnread(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := req.Validate(); err != nil {
		return BatchResult{Email: req.Account}, err
	}
	mb, err := o.open.Open(ctx, req.Account)
	if err != nil {
		return BatchResult{Email: req.Account}, err
	}
	return o.processBatch(ctx, mb, req)
}

func (o *Orchestrator) processBatch(ctx context.Context, mb Mailbox, req BatchRequest) (BatchResult, error) {
	res := BatchResult{Email: req.Account, Results: []BatchItem{}}
	ids, err := mb.ListUnread(ctx, req.LabelFilter, req.MaxEmails)
	if err != nil {
		return res, fmt.Errorf("list unread: %w", err)
	}
	res.TotalFound = len(ids)
	o.log.Info().Str("account", req.Account).Int("found", len(ids)).Msg("processing unread batch")

	flt := filter.New(mb, filter.Options{
		IgnoreSenders:  o.cfg.IgnoreSenders,
		SkipDraftCheck: !req.SkipExistingDrafts,
	})

	type job struct {
		idx int
		id  string
	}
	jobs := make(chan job, len(ids))
	items := make([]BatchItem, len(ids))

	workerCount := min(o.cfg.Concurrency, len(ids))
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					items[j.idx] = BatchItem{MessageID: j.id, Error: ctx.Err().Error()}
					continue
				default:
				}
				items[j.idx] = o.processOne(ctx, mb, flt, req.Account, j.id)
			}
		}()
	}
	for i, id := range ids {
		jobs <- job{idx: i, id: id}
	}
	close(jobs)
	wg.Wait()

	for _, it := range items {
		switch {
		case it.Success:
			res.Succeeded++
		case it.Skipped != "":
			res.Skipped++
		default:
			res.Failed++
		}
	}
	res.Processed = res.Succeeded + res.Failed
	res.Results = items
	return res, nil
}

// processOne runs one message with its own timeout and ledger record.
func (o *Orchestrator) processOne(ctx context.Context, mb Mailbox, flt *filter.Filter, account, id string) BatchItem {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	r := o.newRun(account)
	r.mb = mb
	r.filter = flt
	defer o.finish(ctx, r)

	r.enter(model.StateResolving)
	msg, err := mb.GetMessage(ctx, id)
	if err != nil {
		r.out.MessageID = id
		o.fail(r, fmt.Errorf("resolve: %w", err))
	} else {
		r.msg = msg
		o.process(ctx, r)
	}

	item := BatchItem{
		MessageID:   id,
		Subject:     r.out.Subject,
		FromAddress: r.out.From,
		DraftID:     r.out.DraftID,
		Warning:     r.out.Warning,
	}
	switch r.out.State {
	case model.StateDone:
		item.Success = true
	case model.StateSkipped:
		item.Skipped = r.out.Reason
		item.Error = "skipped: " + r.out.Reason
	default:
		item.Error = r.out.ErrString()
	}
	return item
}
