// Package services – LedgerService
//
// This file implements the entitlement ledger: lazy requester records, the
// atomic charge-on-use decrement, admin grants, and the admission decision
// that combines them. All counter changes are conditional UPDATEs executed by
// the database; nothing is read, modified, and written back in memory.
package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/repo"
	"github.com/tbourn/go-track-bot/internal/utils"
)

// Admission is how a request was let in.
type Admission int

const (
	// AdmittedWhitelisted requests bypass the ledger and cost nothing.
	AdmittedWhitelisted Admission = iota + 1
	// AdmittedFree requests consumed one free unit.
	AdmittedFree
)

// LedgerService owns requester entitlements.
type LedgerService struct {
	DB *gorm.DB

	// whitelist holds exempt display names without a leading '@'.
	whitelist map[string]struct{}
}

// NewLedgerService builds a LedgerService with the given exemption set.
func NewLedgerService(db *gorm.DB, whitelist []string) *LedgerService {
	set := make(map[string]struct{}, len(whitelist))
	for _, n := range whitelist {
		if n = repo.NormalizeDisplayName(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return &LedgerService{DB: db, whitelist: set}
}

// IsExempt reports whether displayName is on the exemption list.
func (s *LedgerService) IsExempt(displayName string) bool {
	_, ok := s.whitelist[repo.NormalizeDisplayName(displayName)]
	return ok
}

// GetOrCreate returns the requester's record, creating it on first contact.
// The whitelist flag is decided only at creation.
func (s *LedgerService) GetOrCreate(ctx context.Context, requesterID int64, displayName string) (*domain.Requester, error) {
	name := repo.NormalizeDisplayName(displayName)
	return repo.GetOrCreateRequester(ctx, s.DB, requesterID, name, s.IsExempt(name))
}

// ChargeOne consumes one free unit if any is left. It reports whether a unit
// was consumed; an empty balance is not an error.
func (s *LedgerService) ChargeOne(ctx context.Context, requesterID int64) (bool, error) {
	n, err := repo.ChargeOne(ctx, s.DB, requesterID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MaxGrantCount is the largest count a single grant accepts.
const MaxGrantCount = 10000

// Grant adds count units to target, which is a numeric requester id or a
// display name (a leading '@' is ignored). It returns the number of records
// changed; an unknown target changes none and is not an error.
func (s *LedgerService) Grant(ctx context.Context, target string, count int) (int64, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Grant",
		trace.WithAttributes(attribute.Int("grant.count", count)),
	)
	defer span.End()

	target = strings.TrimSpace(target)
	if count <= 0 || count > MaxGrantCount {
		return 0, &domain.AdminFailure{Reason: domain.ErrInvalidCount}
	}
	if repo.NormalizeDisplayName(target) == "" {
		return 0, &domain.AdminFailure{Reason: domain.ErrInvalidTarget}
	}
	if id, ok := utils.ParseID(target); ok && !strings.HasPrefix(target, "@") {
		return repo.GrantByID(ctx, s.DB, id, count)
	}
	return repo.GrantByName(ctx, s.DB, target, count)
}

// Admit decides whether a new request may run. Whitelisted requesters are
// admitted without charge; others consume one free unit. An exhausted
// balance yields an EntitlementFailure wrapping ErrPaymentRequired.
func (s *LedgerService) Admit(ctx context.Context, requesterID int64, displayName string) (Admission, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Admit",
		trace.WithAttributes(attribute.Int64("requester.id", requesterID)),
	)
	defer span.End()

	rec, err := s.GetOrCreate(ctx, requesterID, displayName)
	if err != nil {
		return 0, err
	}
	if rec.Whitelisted {
		return AdmittedWhitelisted, nil
	}
	charged, err := s.ChargeOne(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	if !charged {
		return 0, &domain.EntitlementFailure{Reason: domain.ErrPaymentRequired}
	}
	return AdmittedFree, nil
}

// Balance returns the requester's record without creating it, or
// repo.ErrNotFound.
func (s *LedgerService) Balance(ctx context.Context, requesterID int64) (*domain.Requester, error) {
	return repo.GetRequester(ctx, s.DB, requesterID)
}

// Stats summarizes the ledger.
func (s *LedgerService) Stats(ctx context.Context) (repo.Stats, error) {
	return repo.LedgerStats(ctx, s.DB)
}
