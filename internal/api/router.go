// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"replydraft/internal/apperr"
	"replydraft/internal/logging"
	"replydraft/internal/model"
	"replydraft/internal/pipeline"
)

// Pipeline is the part of the orchestrator the handlers drive.
type Pipeline interface {
	HandleNotification(ctx context.Context, n model.Notification) model.Outcome
	ProcessUnread(ctx context.Context, req pipeline.BatchRequest) (pipeline.BatchResult, error)
}

// RunLister reads the run ledger. It may be nil.
type RunLister interface {
	ListOutcomes(ctx context.Context, account string, limit int) ([]model.Outcome, error)
}

// WatchRegistrar renews mailbox push registrations. It may be nil.
type WatchRegistrar interface {
	Register(ctx context.Context, account string) (model.WatchRegistration, error)
}

type Handler struct {
	pipe     Pipeline
	runs     RunLister
	watch    WatchRegistrar
	pushAuth *PushAuthConfig
	log      zerolog.Logger
}

// Option configures optional routes and guards.
type Option func(*Handler)

// WithWatch enables POST /watch.
func WithWatch(w WatchRegistrar) Option {
	return func(h *Handler) { h.watch = w }
}

// WithPushAuth requires an OIDC bearer token on POST /pubsub/push.
func WithPushAuth(cfg PushAuthConfig) Option {
	return func(h *Handler) { h.pushAuth = &cfg }
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(pipe Pipeline, runs RunLister, log zerolog.Logger, opts ...Option) *gin.Engine {
	h := &Handler{pipe: pipe, runs: runs, log: log.With().Str("component", "api").Logger()}
	for _, opt := range opts {
		opt(h)
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(h.log))

	router.GET("/", h.Health)
	router.GET("/health", h.Health)
	push := []gin.HandlerFunc{h.Push}
	if h.pushAuth != nil {
		push = append([]gin.HandlerFunc{PushAuth(*h.pushAuth, h.log)}, push...)
	}
	router.POST("/pubsub/push", push...)
	router.POST("/agent/process-unread", h.ProcessUnread)
	router.POST("/watch", h.Watch)
	router.GET("/runs", h.Runs)
	return router
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "replydraft"})
}

// Push handles a push notification. Everything except a transient failure is
// acknowledged with 200 so the transport does not redeliver forever.
// POST /pubsub/push
func (h *Handler) Push(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "detail": "unreadable body"})
		return
	}
	n, err := DecodePush(body)
	if err != nil {
		h.log.Warn().Err(err).Msg("ignoring malformed push")
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "detail": err.Error()})
		return
	}

	out := h.pipe.HandleNotification(c.Request.Context(), n)
	status, resp := pushResponse(out)
	c.JSON(status, resp)
}

func pushResponse(out model.Outcome) (int, gin.H) {
	resp := gin.H{"status": "ok", "run_id": out.RunID}
	if out.MessageID != "" {
		resp["message_id"] = out.MessageID
	}
	switch out.State {
	case model.StateDone:
		resp["draft_id"] = out.DraftID
		if out.Warning != "" {
			resp["warning"] = out.Warning
		}
	case model.StateSkipped:
		resp["skipped"] = out.Reason
	default:
		if !out.Acknowledge() {
			return http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"run_id": out.RunID,
				"error":  out.ErrString(),
			}
		}
		resp["failed"] = out.ErrString()
		resp["permanent"] = true
	}
	return http.StatusOK, resp
}

// ProcessUnreadRequest is the manual batch trigger body.
type ProcessUnreadRequest struct {
	Email              string   `json:"email"`
	MaxEmails          int      `json:"max_emails"`
	LabelFilter        []string `json:"label_filter"`
	SkipExistingDrafts *bool    `json:"skip_existing_drafts"`
}

type processUnreadResponse struct {
	Success bool `json:"success"`
	pipeline.BatchResult
}

// ProcessUnread drafts replies for a batch of unread messages.
// POST /agent/process-unread
func (h *Handler) ProcessUnread(c *gin.Context) {
	var req ProcessUnreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	skip := true
	if req.SkipExistingDrafts != nil {
		skip = *req.SkipExistingDrafts
	}

	res, err := h.pipe.ProcessUnread(c.Request.Context(), pipeline.BatchRequest{
		Account:            req.Email,
		MaxEmails:          req.MaxEmails,
		LabelFilter:        req.LabelFilter,
		SkipExistingDrafts: skip,
	})
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, processUnreadResponse{Success: true, BatchResult: res})
}

// WatchRequest is the manual re-registration body.
type WatchRequest struct {
	Email string `json:"email"`
}

// Watch re-registers push notifications for one mailbox.
// POST /watch
func (h *Handler) Watch(c *gin.Context) {
	if h.watch == nil {
		writeError(c, http.StatusNotFound, "WATCH_DISABLED", "no notification topic configured", nil)
		return
	}
	var req WatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "missing email", nil)
		return
	}
	reg, err := h.watch.Register(c.Request.Context(), req.Email)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	resp := gin.H{"status": "re-registered", "email": reg.Account, "history_id": reg.HistoryID}
	if !reg.Expiration.IsZero() {
		resp["expiration"] = reg.Expiration
	}
	c.JSON(http.StatusOK, resp)
}

func writeUpstreamError(c *gin.Context, err error) {
	var credErr *apperr.CredentialError
	switch {
	case errors.As(err, &credErr):
		writeError(c, http.StatusUnprocessableEntity, "CREDENTIALS_MISSING", err.Error(), gin.H{"missing": credErr.Missing})
	case apperr.Classify(err) == apperr.KindInput:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case apperr.Classify(err) == apperr.KindTransient:
		writeError(c, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error(), nil)
	default:
		writeError(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
	}
}

type runView struct {
	RunID     string    `json:"run_id"`
	Account   string    `json:"account"`
	MessageID string    `json:"message_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	DraftID   string    `json:"draft_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Permanent bool      `json:"permanent,omitempty"`
	Warning   string    `json:"warning,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Runs lists recent pipeline outcomes.
// GET /runs?account=&limit=
func (h *Handler) Runs(c *gin.Context) {
	if h.runs == nil {
		writeError(c, http.StatusNotFound, "LEDGER_DISABLED", "no run ledger configured", nil)
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}
	outs, err := h.runs.ListOutcomes(c.Request.Context(), c.Query("account"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list runs")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read run ledger", nil)
		return
	}
	views := make([]runView, 0, len(outs))
	for _, o := range outs {
		views = append(views, runView{
			RunID:     o.RunID,
			Account:   o.AccountID,
			MessageID: o.MessageID,
			ThreadID:  o.ThreadID,
			Subject:   o.Subject,
			State:     string(o.State),
			Reason:    o.Reason,
			DraftID:   o.DraftID,
			Error:     o.ErrString(),
			Permanent: o.Permanent,
			Warning:   o.Warning,
			StartedAt: o.StartedAt,
			EndedAt:   o.EndedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

func writeError(c *gin.Context, status int, code, msg string, extra gin.H) {
	e := gin.H{"code": code, "message": msg}
	for k, v := range extra {
		e[k] = v
	}
	c.JSON(status, gin.H{"success": false, "error": e})
}
