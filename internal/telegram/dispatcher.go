package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/repo"
	"github.com/tbourn/go-track-bot/internal/services"
	"github.com/tbourn/go-track-bot/internal/utils"
)

const msgInvoiceExpired = "This invoice is no longer valid."

// Handler is the request intake the dispatcher routes to. *services.BotService
// implements it.
type Handler interface {
	OnTextRequest(ctx context.Context, req services.Request) (domain.StatusHandle, error)
	OnCommand(ctx context.Context, req services.Request, cmd string, args []string) error
	ValidatePreCheckout(ctx context.Context, requesterID int64, payload string) error
	OnPaymentConfirmed(ctx context.Context, requesterID int64, payload string) (domain.StatusHandle, error)
}

// CheckoutAnswerer answers pre-checkout queries. *Client implements it.
type CheckoutAnswerer interface {
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errMsg string) error
}

// Dispatcher routes updates from either the webhook or the poller.
type Dispatcher struct {
	// DB, when set, holds the processed-update log used to drop redeliveries.
	DB        *gorm.DB
	DedupeTTL time.Duration

	Bot      Handler
	Checkout CheckoutAnswerer
	Log      zerolog.Logger
}

// Dispatch handles one update. Expected outcomes such as a payment prompt or
// a throttled requester are not errors; the returned error is for logging
// only and never means the update should be redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, u Update) error {
	log := d.Log.With().Int("update_id", u.UpdateID).Logger()

	if d.DB != nil {
		err := repo.ClaimUpdate(ctx, d.DB, int64(u.UpdateID), d.DedupeTTL)
		if errors.Is(err, repo.ErrDuplicate) {
			log.Debug().Msg("duplicate update dropped")
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("update claim failed, processing anyway")
		}
	}

	switch {
	case u.PreCheckoutQuery != nil && u.PreCheckoutQuery.From != nil:
		return d.preCheckout(ctx, u.PreCheckoutQuery)
	case u.Message != nil && u.Message.SuccessfulPayment != nil:
		return d.paymentConfirmed(ctx, u.Message)
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil && u.Message.Text != "":
		return d.text(ctx, u.Message)
	}
	log.Debug().Msg("update ignored")
	return nil
}

func (d *Dispatcher) preCheckout(ctx context.Context, q *PreCheckoutQuery) error {
	err := d.Bot.ValidatePreCheckout(ctx, q.From.ID, q.InvoicePayload)
	if err != nil {
		d.Log.Info().Err(err).Int64("requester_id", q.From.ID).Msg("pre-checkout rejected")
	}
	return d.Checkout.AnswerPreCheckoutQuery(ctx, q.ID, err == nil, msgInvoiceExpired)
}

func (d *Dispatcher) paymentConfirmed(ctx context.Context, m *Message) error {
	if m.From == nil {
		return nil
	}
	_, err := d.Bot.OnPaymentConfirmed(ctx, m.From.ID, m.SuccessfulPayment.InvoicePayload)
	switch {
	case errors.Is(err, services.ErrAlreadySettled):
		d.Log.Info().Str("payment_id", m.SuccessfulPayment.InvoicePayload).Msg("duplicate payment confirmation")
		return nil
	case err != nil:
		return err
	}
	d.Log.Info().
		Str("payment_id", m.SuccessfulPayment.InvoicePayload).
		Str("charge_id", m.SuccessfulPayment.TelegramPaymentChargeID).
		Msg("payment settled")
	return nil
}

func (d *Dispatcher) text(ctx context.Context, m *Message) error {
	req := services.Request{
		RequesterID: m.From.ID,
		ChatID:      m.Chat.ID,
		DisplayName: m.From.UserName,
		Text:        m.Text,
	}
	if cmd, args, ok := utils.SplitCommand(m.Text); ok {
		return d.Bot.OnCommand(ctx, req, cmd, args)
	}

	_, err := d.Bot.OnTextRequest(ctx, req)
	switch {
	case errors.Is(err, domain.ErrPaymentRequired),
		errors.Is(err, services.ErrRateLimited),
		errors.Is(err, services.ErrEmptyRequest):
		return nil
	}
	return err
}
