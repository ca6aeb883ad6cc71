// Bot HTTP handlers.
//
// This file exposes the endpoints of the track bot:
//   - GET  /                 (status banner)
//   - GET  /health           (liveness)
//   - POST /bot/{token}      (Telegram webhook, guarded upstream)
//   - GET  /queue            (admission queue snapshot)
//   - GET  /ledger/stats     (entitlement ledger summary)
//
// Handlers are transport-thin: they decode input, call the dispatcher or a
// read-only service, and translate results into JSON.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-track-bot/internal/http/middleware"
	"github.com/tbourn/go-track-bot/internal/repo"
	"github.com/tbourn/go-track-bot/internal/telegram"
)

//
// Service contracts (context-aware)
//

// UpdateDispatcher routes one Telegram update.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update) error
}

// QueueInspector reports the admission queue state.
type QueueInspector interface {
	Pending() int
	InFlight() int
}

// LedgerReporter summarizes the entitlement ledger.
type LedgerReporter interface {
	Stats(ctx context.Context) (repo.Stats, error)
}

//
// Handler wiring
//

// Handlers groups the bot's HTTP endpoints.
type Handlers struct {
	dispatcher UpdateDispatcher
	queue      QueueInspector
	ledger     LedgerReporter

	// DispatchTimeout bounds the work done for a single webhook delivery.
	DispatchTimeout time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d UpdateDispatcher, q QueueInspector, l LedgerReporter) *Handlers {
	return &Handlers{dispatcher: d, queue: q, ledger: l, DispatchTimeout: 30 * time.Second}
}

//
// DTOs
//

// StatusResponse is the body of GET / and GET /health.
type StatusResponse struct {
	Status  string `json:"status" example:"ok"`
	Message string `json:"message,omitempty" example:"Track bot is running"`
}

// WebhookResponse is always {"ok":true} so Telegram does not redeliver.
type WebhookResponse struct {
	OK bool `json:"ok" example:"true"`
}

// QueueResponse is a snapshot of the admission queue.
type QueueResponse struct {
	// Pending jobs waiting for the worker.
	Pending int `json:"pending" example:"2"`
	// InFlight is 1 while the worker processes a job.
	InFlight int `json:"in_flight" example:"1"`
}

//
// Handlers
//

// Root godoc
// @ID          root
// @Summary     Status banner
// @Tags        Status
// @Produce     json
// @Success     200  {object}  handlers.StatusResponse
// @Router      / [get]
func (h *Handlers) Root(c *gin.Context) {
	ok(c, http.StatusOK, StatusResponse{Status: "ok", Message: "Track bot is running"})
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Status
// @Produce     json
// @Success     200  {object}  handlers.StatusResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, StatusResponse{Status: "healthy"})
}

// Webhook godoc
// @ID          webhook
// @Summary     Telegram webhook
// @Description Receives one Telegram update. Always answers {"ok":true} once the token (and secret, when configured) check out, including for updates that fail to decode or dispatch.
// @Tags        Bot
// @Accept      json
// @Produce     json
//
// @Param       token                            path    string  true   "Bot token"
// @Param       X-Telegram-Bot-Api-Secret-Token  header  string  false  "Webhook secret"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Bad secret"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown token"
// @Router      /bot/{token} [post]
func (h *Handlers) Webhook(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	var u telegram.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		lg.Warn().Err(err).Msg("undecodable update dropped")
		ok(c, http.StatusOK, WebhookResponse{OK: true})
		return
	}

	// Dispatch survives a dropped connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.DispatchTimeout)
	defer cancel()
	if err := h.dispatcher.Dispatch(ctx, u); err != nil {
		lg.Error().Err(err).Int("update_id", u.UpdateID).Msg("dispatch failed")
	}
	ok(c, http.StatusOK, WebhookResponse{OK: true})
}

// Queue godoc
// @ID          queueStatus
// @Summary     Admission queue snapshot
// @Tags        Admin
// @Produce     json
// @Success     200  {object}  handlers.QueueResponse
// @Router      /api/v1/queue [get]
func (h *Handlers) Queue(c *gin.Context) {
	ok(c, http.StatusOK, QueueResponse{
		Pending:  h.queue.Pending(),
		InFlight: h.queue.InFlight(),
	})
}

// LedgerStats godoc
// @ID          ledgerStats
// @Summary     Entitlement ledger summary
// @Description Counts requesters, whitelisted requesters, and free downloads still outstanding.
// @Tags        Admin
// @Produce     json
// @Success     200  {object}  repo.Stats
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/ledger/stats [get]
func (h *Handlers) LedgerStats(c *gin.Context) {
	st, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, "ledger unavailable")
		return
	}
	ok(c, http.StatusOK, st)
}
