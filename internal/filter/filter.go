// Package filter decides whether an inbound message should get a drafted reply.
package filter

import (
	"context"
	"strings"

	"replydraft/internal/model"
	"replydraft/internal/util"
)

// Skip reasons, in guard order.
const (
	ReasonNotInInbox       = "not_in_inbox"
	ReasonNotUnread        = "not_unread"
	ReasonIsDraft          = "is_draft"
	ReasonIsSent           = "is_sent"
	ReasonAlreadyProcessed = "already_processed"
	ReasonSelfAuthored     = "self_authored"
	ReasonIgnoredSender    = "ignored_sender"
	ReasonDraftExists      = "draft_exists"
)

// DraftChecker looks up existing drafts in the remote mailbox.
type DraftChecker interface {
	ThreadHasDraft(ctx context.Context, threadID string) (bool, error)
}

// Decision is the filter verdict. Reason is empty when Process is true.
type Decision struct {
	Process bool
	Reason  string
}

func skip(reason string) Decision { return Decision{Reason: reason} }

// Options configure optional guards.
type Options struct {
	// IgnoreSenders are normalized addresses or "@domain" suffixes that never
	// get a reply.
	IgnoreSenders []string
	// SkipDraftCheck disables the remote draft lookup.
	SkipDraftCheck bool
}

// Filter evaluates the guards in a fixed order and stops at the first match.
// The remote draft lookup runs last so it only happens for otherwise
// eligible messages.
type Filter struct {
	drafts DraftChecker
	opts   Options
}

func New(drafts DraftChecker, opts Options) *Filter {
	return &Filter{drafts: drafts, opts: opts}
}

// ChecksDrafts reports whether Decide consults the remote mailbox for drafts.
func (f *Filter) ChecksDrafts() bool {
	return !f.opts.SkipDraftCheck && f.drafts != nil
}

// Decide returns the verdict for msg received by account. An error is only
// returned when the draft lookup fails; it is never read as "no draft".
func (f *Filter) Decide(ctx context.Context, msg model.Message, account string) (Decision, error) {
	if d, done := Local(msg, account, f.opts.IgnoreSenders); done {
		return d, nil
	}
	if f.opts.SkipDraftCheck || f.drafts == nil {
		return Decision{Process: true}, nil
	}
	has, err := f.drafts.ThreadHasDraft(ctx, msg.ThreadID)
	if err != nil {
		return Decision{}, err
	}
	if has {
		return skip(ReasonDraftExists), nil
	}
	return Decision{Process: true}, nil
}

// Local evaluates every guard that needs no remote call. done is true when a
// guard matched.
func Local(msg model.Message, account string, ignore []string) (d Decision, done bool) {
	switch {
	case !msg.Has(model.FlagInbox):
		return skip(ReasonNotInInbox), true
	case !msg.Has(model.FlagUnread):
		return skip(ReasonNotUnread), true
	case msg.Has(model.FlagDraft):
		return skip(ReasonIsDraft), true
	case msg.Has(model.FlagSent):
		return skip(ReasonIsSent), true
	case msg.Has(model.FlagProcessed):
		return skip(ReasonAlreadyProcessed), true
	case util.FromAccount(msg.From(), account):
		return skip(ReasonSelfAuthored), true
	case ignored(msg.From(), ignore):
		return skip(ReasonIgnoredSender), true
	}
	return Decision{}, false
}

func ignored(from string, ignore []string) bool {
	if len(ignore) == 0 {
		return false
	}
	sender := util.NormalizeSender(from)
	if sender == "" {
		return false
	}
	for _, pat := range ignore {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		if strings.HasPrefix(pat, "@") {
			if strings.HasSuffix(sender, pat) {
				return true
			}
			continue
		}
		if sender == util.NormalizeSender(pat) {
			return true
		}
	}
	return false
}
