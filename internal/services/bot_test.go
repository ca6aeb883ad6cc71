package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/repo"
)

func TestOnTextRequest_FirstFreeThenPaymentPrompt(t *testing.T) {
	s, n := newBot(t)
	ctx := context.Background()
	req := Request{RequesterID: 5, ChatID: 50, DisplayName: "carol", Text: "https://music.yandex.ru/album/1/track/2"}

	h, err := s.OnTextRequest(ctx, req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if s.Queue.Pending() != 1 || len(n.invoices) != 0 {
		t.Fatalf("first request should enqueue without invoice")
	}
	if got := n.statuses[h][0]; got != "Queued, position 1" {
		t.Fatalf("status = %q", got)
	}
	job := dequeueNow(t, s.Queue)
	if job.Reference.Kind != domain.Link || job.Prepaid || job.Status != h || job.ID == "" {
		t.Fatalf("unexpected job: %+v", job)
	}

	h2, err := s.OnTextRequest(ctx, req)
	if !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("second request err = %v", err)
	}
	if s.Queue.Pending() != 0 {
		t.Fatalf("payment-gated request must not be enqueued")
	}
	if len(n.invoices) != 1 || n.invoices[0].amount != 3 || n.invoices[0].chatID != 50 {
		t.Fatalf("invoices = %+v", n.invoices)
	}
	if n.statuses[h2][0] != domain.MsgPaymentRequired {
		t.Fatalf("status = %v", n.statuses[h2])
	}
}

func TestOnTextRequest_WhitelistedFreeText_NoCharge(t *testing.T) {
	s, _ := newBot(t, "exsslx")
	ctx := context.Background()

	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 1, ChatID: 1, DisplayName: "exsslx", Text: "chill lofi beat"}); err != nil {
		t.Fatalf("OnTextRequest: %v", err)
	}
	job := dequeueNow(t, s.Queue)
	if job.Reference.Kind != domain.FreeText || job.Reference.Raw != "chill lofi beat" {
		t.Fatalf("job = %+v", job)
	}
	rec, _ := s.Ledger.Balance(ctx, 1)
	if rec.FreeRemaining != 1 {
		t.Fatalf("whitelisted requester was charged: %d", rec.FreeRemaining)
	}
}

func TestPaymentFlow_SettleOnceEnqueuePrepaid(t *testing.T) {
	s, n := newBot(t)
	ctx := context.Background()
	// Exhaust the free unit directly.
	if _, err := s.Ledger.GetOrCreate(ctx, 8, "dave"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ChargeOne(ctx, s.DB, 8); err != nil {
		t.Fatal(err)
	}

	link := "https://music.yandex.ru/album/3/track/4"
	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 8, ChatID: 80, DisplayName: "dave", Text: link}); !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
	payload := n.invoices[0].payload

	if err := s.ValidatePreCheckout(ctx, 9, payload); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("foreign payer pre-checkout err = %v", err)
	}
	if err := s.ValidatePreCheckout(ctx, 8, payload); err != nil {
		t.Fatalf("pre-checkout: %v", err)
	}

	if _, err := s.OnPaymentConfirmed(ctx, 8, payload); err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}
	if _, err := s.OnPaymentConfirmed(ctx, 8, payload); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("duplicate confirmation err = %v", err)
	}
	if s.Queue.Pending() != 1 {
		t.Fatalf("expected exactly one job, got %d", s.Queue.Pending())
	}
	job := dequeueNow(t, s.Queue)
	if !job.Prepaid || job.Reference.Raw != link || job.ChatID != 80 {
		t.Fatalf("job = %+v", job)
	}
	rec, _ := s.Ledger.Balance(ctx, 8)
	if rec.FreeRemaining != 0 {
		t.Fatalf("pre-paid job must not touch the ledger, got %d", rec.FreeRemaining)
	}
	if err := s.ValidatePreCheckout(ctx, 8, payload); !errors.Is(err, ErrPaymentNotPending) {
		t.Fatalf("pre-checkout after settle err = %v", err)
	}
	if _, err := s.OnPaymentConfirmed(ctx, 8, "bogus"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("unknown payload err = %v", err)
	}
}

func TestOnTextRequest_StoreFailure_ProcessingError(t *testing.T) {
	s, n := newBot(t)
	if err := s.DB.Migrator().DropTable(&domain.Requester{}); err != nil {
		t.Fatal(err)
	}
	_, err := s.OnTextRequest(context.Background(), Request{RequesterID: 1, ChatID: 1, Text: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if n.lastReply() != domain.MsgProcessingError || s.Queue.Pending() != 0 {
		t.Fatalf("reply = %q pending = %d", n.lastReply(), s.Queue.Pending())
	}
}

func TestOnTextRequest_EnqueueFailureRefunds(t *testing.T) {
	s, n := newBot(t)
	n.sendErr = errors.New("transport down")
	ctx := context.Background()

	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 3, ChatID: 3, Text: "song"}); err == nil {
		t.Fatalf("expected error")
	}
	rec, _ := s.Ledger.Balance(ctx, 3)
	if rec.FreeRemaining != 1 {
		t.Fatalf("charged unit not refunded: %d", rec.FreeRemaining)
	}
}

func TestOnPaymentConfirmed_EnqueueFailureCredits(t *testing.T) {
	s, n := newBot(t)
	ctx := context.Background()
	if _, err := s.Ledger.GetOrCreate(ctx, 6, "erin"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ChargeOne(ctx, s.DB, 6); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 6, ChatID: 60, Text: "song"}); !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
	payload := n.invoices[0].payload

	n.sendErr = errors.New("transport blip")
	if _, err := s.OnPaymentConfirmed(ctx, 6, payload); err == nil {
		t.Fatalf("expected enqueue error")
	}
	if _, err := s.OnPaymentConfirmed(ctx, 6, payload); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("redelivered confirmation err = %v", err)
	}
	rec, _ := s.Ledger.Balance(ctx, 6)
	if rec.FreeRemaining != 1 || s.Queue.Pending() != 0 {
		t.Fatalf("free_remaining = %d pending = %d", rec.FreeRemaining, s.Queue.Pending())
	}
	if n.lastReply() != domain.MsgProcessingError {
		t.Fatalf("reply = %q", n.lastReply())
	}

	// The credit admits the resent request without another invoice.
	n.sendErr = nil
	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 6, ChatID: 60, Text: "song"}); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if s.Queue.Pending() != 1 || len(n.invoices) != 1 {
		t.Fatalf("pending = %d invoices = %d", s.Queue.Pending(), len(n.invoices))
	}
}

func TestOnTextRequest_EmptyAndRateLimited(t *testing.T) {
	s, n := newBot(t)
	ctx := context.Background()
	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 1, Text: "   "}); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("empty err = %v", err)
	}

	s.Limiter = denyAll{}
	if _, err := s.OnTextRequest(ctx, Request{RequesterID: 1, Text: "song"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("rate limit err = %v", err)
	}
	if n.lastReply() != msgRateLimited {
		t.Fatalf("reply = %q", n.lastReply())
	}
	if _, err := s.Ledger.Balance(ctx, 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("throttled request must not reach the ledger")
	}
}

func TestOnTextRequest_InvoiceFailure(t *testing.T) {
	s, n := newBot(t)
	ctx := context.Background()
	_, _ = s.OnTextRequest(ctx, Request{RequesterID: 4, ChatID: 4, Text: "one"})
	dequeueNow(t, s.Queue)

	n.invoiceErr = errors.New("invoice rejected")
	h, err := s.OnTextRequest(ctx, Request{RequesterID: 4, ChatID: 4, Text: "two"})
	if err == nil || errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("err = %v", err)
	}
	st := n.statuses[h]
	if st[len(st)-1] != domain.MsgProcessingError {
		t.Fatalf("statuses = %v", st)
	}
}

func TestOnCommand_GrantAndBalance(t *testing.T) {
	s, n := newBot(t, "admin")
	ctx := context.Background()
	admin := Request{RequesterID: 1, ChatID: 1, DisplayName: "admin"}
	user := Request{RequesterID: 2, ChatID: 2, DisplayName: "bob"}

	_ = s.OnCommand(ctx, user, "start", nil)
	if n.lastReply() != msgWelcome {
		t.Fatalf("start reply = %q", n.lastReply())
	}

	_ = s.OnCommand(ctx, user, "grant", []string{"@bob", "5"})
	if n.lastReply() != msgNotAllowed {
		t.Fatalf("non-admin grant reply = %q", n.lastReply())
	}

	_ = s.OnCommand(ctx, admin, "grant", []string{"@bob", "5"})
	if n.lastReply() != "Granted 5 to @bob." {
		t.Fatalf("grant reply = %q", n.lastReply())
	}
	_ = s.OnCommand(ctx, user, "balance", nil)
	if n.lastReply() != "Free downloads left: 6" {
		t.Fatalf("balance reply = %q", n.lastReply())
	}

	_ = s.OnCommand(ctx, admin, "grant", []string{"@ghost", "1"})
	if n.lastReply() != "No requester matches @ghost." {
		t.Fatalf("noop reply = %q", n.lastReply())
	}
	_ = s.OnCommand(ctx, admin, "grant", []string{"@bob", "lots"})
	if n.lastReply() != msgGrantUsage {
		t.Fatalf("bad count reply = %q", n.lastReply())
	}
	_ = s.OnCommand(ctx, admin, "grant", nil)
	if n.lastReply() != msgGrantUsage {
		t.Fatalf("missing args reply = %q", n.lastReply())
	}
	_ = s.OnCommand(ctx, admin, "balance", nil)
	if n.lastReply() != msgUnlimited {
		t.Fatalf("admin balance reply = %q", n.lastReply())
	}
	_ = s.OnCommand(ctx, admin, "nope", nil)
	if n.lastReply() != msgUnknownCmd {
		t.Fatalf("unknown reply = %q", n.lastReply())
	}
}

func TestGrant_ErrorsAreTyped(t *testing.T) {
	s, _ := newBot(t, "admin")
	ctx := context.Background()
	admin := Request{RequesterID: 1, DisplayName: "admin"}

	_, err := s.Grant(ctx, admin, []string{"@bob"})
	var af *domain.AdminFailure
	if !errors.As(err, &af) || !errors.Is(err, domain.ErrInvalidCount) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.Grant(ctx, admin, nil); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.Grant(ctx, Request{RequesterID: 2, DisplayName: "x"}, []string{"1", "1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
}
