// Package services – BotService
//
// This file implements the request intake side of the bot: admission through
// the ledger, the payment gate for exhausted requesters, enqueueing of jobs,
// and the chat commands (/start, /balance, /grant). It is constructed once at
// startup and shared by the webhook handler and the long-polling loop.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/queue"
	"github.com/tbourn/go-track-bot/internal/repo"
	"github.com/tbourn/go-track-bot/internal/resolver"
	"github.com/tbourn/go-track-bot/internal/utils"
)

// Replies to chat commands.
const (
	msgWelcome     = "Send me a Yandex Music track link or a search phrase and I will fetch the audio."
	msgBalance     = "Free downloads left: %d"
	msgUnlimited   = "You are whitelisted: downloads are free."
	msgGrantUsage  = "Usage: /grant <id|@name> <count>"
	msgGrantDone   = "Granted %d to %s."
	msgGrantNoop   = "No requester matches %s."
	msgNotAllowed  = "This command is restricted."
	msgUnknownCmd  = "Unknown command."
	msgRateLimited = "Too many requests, slow down."
)

// Notifier is the outbound side of the messaging transport.
type Notifier interface {
	queue.Sink
	// SendStatus posts a new status message and returns its handle.
	SendStatus(ctx context.Context, chatID int64, text string) (domain.StatusHandle, error)
	// Reply posts a plain message.
	Reply(ctx context.Context, chatID int64, text string) error
}

// PaymentGate issues invoices. The transport later reports settlement
// through OnPaymentConfirmed with the same payload.
type PaymentGate interface {
	RequestPayment(ctx context.Context, chatID int64, amount int, payload string) error
}

// Limiter throttles requesters by key.
type Limiter interface {
	Allow(key string) bool
}

// Request is one inbound user message.
type Request struct {
	RequesterID int64
	ChatID      int64
	DisplayName string
	Text        string
}

// BotService ties admission, payments, and the queue together.
type BotService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Queue    *queue.Queue
	Notifier Notifier
	Payments PaymentGate

	// PaymentAmount is the invoice price of one download.
	PaymentAmount int
	// Limiter, when set, throttles track requests per requester.
	Limiter Limiter

	Log zerolog.Logger
}

// OnTextRequest admits a track request and enqueues it, or issues a payment
// prompt when the requester's allowance is exhausted. In the latter case the
// returned error wraps domain.ErrPaymentRequired and no job is enqueued.
func (s *BotService) OnTextRequest(ctx context.Context, req Request) (domain.StatusHandle, error) {
	ctx, span := otel.Tracer("services/BotService").Start(ctx, "OnTextRequest",
		trace.WithAttributes(attribute.Int64("requester.id", req.RequesterID)),
	)
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return domain.StatusHandle{}, ErrEmptyRequest
	}
	if s.Limiter != nil && !s.Limiter.Allow("requester:"+strconv.FormatInt(req.RequesterID, 10)) {
		_ = s.Notifier.Reply(ctx, req.ChatID, msgRateLimited)
		return domain.StatusHandle{}, ErrRateLimited
	}

	ref := resolver.Classify(text)
	span.SetAttributes(attribute.String("reference.kind", ref.Kind.String()))

	adm, err := s.Ledger.Admit(ctx, req.RequesterID, req.DisplayName)
	var ef *domain.EntitlementFailure
	switch {
	case errors.As(err, &ef):
		return s.requestPayment(ctx, req, ref)
	case err != nil:
		s.Log.Error().Err(err).Int64("requester_id", req.RequesterID).Msg("admission failed")
		_ = s.Notifier.Reply(ctx, req.ChatID, domain.MsgProcessingError)
		return domain.StatusHandle{}, err
	}

	h, err := s.enqueue(ctx, req.RequesterID, req.ChatID, ref, false)
	if err != nil && adm == AdmittedFree {
		// The unit was charged but no job exists; give it back.
		if _, gerr := repo.GrantByID(ctx, s.DB, req.RequesterID, 1); gerr != nil {
			s.Log.Error().Err(gerr).Int64("requester_id", req.RequesterID).Msg("refund failed")
		}
	}
	return h, err
}

func (s *BotService) requestPayment(ctx context.Context, req Request, ref domain.TrackReference) (domain.StatusHandle, error) {
	p, err := repo.CreatePayment(ctx, s.DB, req.RequesterID, req.ChatID, ref.Raw, s.PaymentAmount)
	if err != nil {
		s.Log.Error().Err(err).Msg("create payment")
		_ = s.Notifier.Reply(ctx, req.ChatID, domain.MsgProcessingError)
		return domain.StatusHandle{}, err
	}

	h, err := s.Notifier.SendStatus(ctx, req.ChatID, domain.MsgPaymentRequired)
	if err != nil {
		return domain.StatusHandle{}, err
	}
	if err := s.Payments.RequestPayment(ctx, req.ChatID, s.PaymentAmount, p.ID); err != nil {
		s.Log.Error().Err(err).Str("payment_id", p.ID).Msg("send invoice")
		_ = s.Notifier.UpdateStatus(ctx, h, domain.MsgProcessingError)
		return h, err
	}
	s.Log.Info().Str("payment_id", p.ID).Int64("requester_id", req.RequesterID).Msg("payment requested")
	return h, &domain.EntitlementFailure{Reason: domain.ErrPaymentRequired}
}

// ValidatePreCheckout approves a checkout only for a pending payment owned
// by the payer.
func (s *BotService) ValidatePreCheckout(ctx context.Context, requesterID int64, payload string) error {
	p, err := repo.GetPayment(ctx, s.DB, payload, requesterID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return err
	}
	if p.Status != domain.PaymentPending {
		return ErrPaymentNotPending
	}
	return nil
}

// OnPaymentConfirmed settles the payment named by payload and enqueues its
// request as pre-paid. A redelivered confirmation returns ErrAlreadySettled
// and enqueues nothing. If the job cannot be enqueued after settlement, the
// requester is credited one free download instead.
func (s *BotService) OnPaymentConfirmed(ctx context.Context, requesterID int64, payload string) (domain.StatusHandle, error) {
	ctx, span := otel.Tracer("services/BotService").Start(ctx, "OnPaymentConfirmed",
		trace.WithAttributes(attribute.Int64("requester.id", requesterID)),
	)
	defer span.End()

	p, err := repo.GetPayment(ctx, s.DB, payload, requesterID)
	if errors.Is(err, repo.ErrNotFound) {
		s.Log.Warn().Str("payment_id", payload).Int64("requester_id", requesterID).Msg("confirmation for unknown payment")
		return domain.StatusHandle{}, ErrPaymentNotFound
	}
	if err != nil {
		return domain.StatusHandle{}, err
	}

	settled, err := repo.SettlePayment(ctx, s.DB, p.ID, requesterID)
	if err != nil {
		s.Log.Error().Err(err).Str("payment_id", p.ID).Msg("settle payment")
		_ = s.Notifier.Reply(ctx, p.ChatID, domain.MsgProcessingError)
		return domain.StatusHandle{}, err
	}
	if !settled {
		return domain.StatusHandle{}, ErrAlreadySettled
	}

	h, err := s.enqueue(ctx, requesterID, p.ChatID, resolver.Classify(p.Reference), true)
	if err != nil {
		// Paid but not queued: credit one download so the requester can resend.
		if _, gerr := repo.GrantByID(ctx, s.DB, requesterID, 1); gerr != nil {
			s.Log.Error().Err(gerr).Str("payment_id", p.ID).Msg("credit for unqueued payment failed")
		} else {
			s.Log.Warn().Str("payment_id", p.ID).Int64("requester_id", requesterID).Msg("payment credited after enqueue failure")
		}
		_ = s.Notifier.Reply(ctx, p.ChatID, domain.MsgProcessingError)
	}
	return h, err
}

func (s *BotService) enqueue(ctx context.Context, requesterID, chatID int64, ref domain.TrackReference, prepaid bool) (domain.StatusHandle, error) {
	h, err := s.Notifier.SendStatus(ctx, chatID, fmt.Sprintf(domain.MsgQueued, s.Queue.NextPosition()))
	if err != nil {
		s.Log.Error().Err(err).Int64("chat_id", chatID).Msg("send status")
		return domain.StatusHandle{}, err
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ChatID:      chatID,
		Reference:   ref,
		Status:      h,
		Prepaid:     prepaid,
		EnqueuedAt:  time.Now().UTC(),
	}
	pos := s.Queue.Enqueue(job)
	s.Log.Info().
		Str("job_id", job.ID).
		Int64("requester_id", requesterID).
		Str("kind", ref.Kind.String()).
		Bool("prepaid", prepaid).
		Int("position", pos).
		Msg("job enqueued")
	return h, nil
}

// OnCommand handles a chat command. Unknown commands get a short reply.
func (s *BotService) OnCommand(ctx context.Context, req Request, cmd string, args []string) error {
	switch cmd {
	case "start", "help":
		if _, err := s.Ledger.GetOrCreate(ctx, req.RequesterID, req.DisplayName); err != nil {
			s.Log.Error().Err(err).Msg("register requester")
		}
		return s.Notifier.Reply(ctx, req.ChatID, msgWelcome)

	case "balance":
		rec, err := s.Ledger.GetOrCreate(ctx, req.RequesterID, req.DisplayName)
		if err != nil {
			_ = s.Notifier.Reply(ctx, req.ChatID, domain.MsgProcessingError)
			return err
		}
		if rec.Whitelisted {
			return s.Notifier.Reply(ctx, req.ChatID, msgUnlimited)
		}
		return s.Notifier.Reply(ctx, req.ChatID, fmt.Sprintf(msgBalance, rec.FreeRemaining))

	case "grant":
		n, err := s.Grant(ctx, req, args)
		var af *domain.AdminFailure
		switch {
		case errors.Is(err, ErrForbidden):
			return s.Notifier.Reply(ctx, req.ChatID, msgNotAllowed)
		case errors.As(err, &af):
			return s.Notifier.Reply(ctx, req.ChatID, msgGrantUsage)
		case err != nil:
			_ = s.Notifier.Reply(ctx, req.ChatID, domain.MsgProcessingError)
			return err
		case n == 0:
			return s.Notifier.Reply(ctx, req.ChatID, fmt.Sprintf(msgGrantNoop, args[0]))
		}
		return s.Notifier.Reply(ctx, req.ChatID, fmt.Sprintf(msgGrantDone, utils.AtoiDefault(args[1], 0), args[0]))

	default:
		return s.Notifier.Reply(ctx, req.ChatID, msgUnknownCmd)
	}
}

// Grant runs the admin grant command for a whitelisted caller. args are
// <id|@name> <count>. It returns the number of records changed.
func (s *BotService) Grant(ctx context.Context, caller Request, args []string) (int64, error) {
	rec, err := s.Ledger.GetOrCreate(ctx, caller.RequesterID, caller.DisplayName)
	if err != nil {
		return 0, err
	}
	if !rec.Whitelisted {
		return 0, ErrForbidden
	}
	if len(args) < 1 {
		return 0, &domain.AdminFailure{Reason: domain.ErrInvalidTarget}
	}
	if len(args) != 2 {
		return 0, &domain.AdminFailure{Reason: domain.ErrInvalidCount}
	}

	n, err := s.Ledger.Grant(ctx, args[0], utils.AtoiDefault(args[1], 0))
	if err == nil {
		s.Log.Info().
			Int64("admin_id", caller.RequesterID).
			Str("target", args[0]).
			Str("count", args[1]).
			Int64("rows", n).
			Msg("grant")
	}
	return n, err
}
