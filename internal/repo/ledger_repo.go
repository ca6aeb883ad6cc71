// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the entitlement ledger queries.
//
// Every allowance mutation is a single conditional UPDATE evaluated by the
// database, never a read-modify-write in process memory, so concurrent
// admission checks for the same requester cannot overspend or drive the
// allowance negative. Mutations report the number of rows they touched;
// zero means the target did not exist or the condition did not hold.
//
// Functions:
//
//   - GetOrCreateRequester(ctx, db, id, name, whitelisted) -> *domain.Requester, error
//     Inserts with ON CONFLICT DO NOTHING, then reads back the stored row.
//
//   - GetRequester(ctx, db, id) -> *domain.Requester, error
//     Returns ErrNotFound if missing.
//
//   - ChargeOne(ctx, db, id) -> rows, error
//     free_remaining = free_remaining - 1 WHERE id = ? AND free_remaining > 0.
//
//   - GrantByID / GrantByName(ctx, db, target, count) -> rows, error
//     free_remaining = free_remaining + count WHERE free_remaining <= MaxFreeRemaining - count.
//
//   - LedgerStats(ctx, db) -> Stats, error
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-track-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// MaxFreeRemaining caps a requester's allowance. Grants that would exceed it
// change nothing.
const MaxFreeRemaining = 1<<31 - 1

// GetOrCreateRequester returns the requester row for id, creating it with the
// default allowance when absent. The insert is an upsert-on-conflict no-op, so
// concurrent first contacts converge on a single row and the first writer's
// whitelist flag wins.
func GetOrCreateRequester(ctx context.Context, db *gorm.DB, id int64, displayName string, whitelisted bool) (*domain.Requester, error) {
	now := time.Now().UTC()
	rec := &domain.Requester{
		ID:            id,
		DisplayName:   displayName,
		FreeRemaining: domain.DefaultFreeDownloads,
		Whitelisted:   whitelisted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return nil, err
	}
	return GetRequester(ctx, db, id)
}

// GetRequester fetches a requester by id, or ErrNotFound.
func GetRequester(ctx context.Context, db *gorm.DB, id int64) (*domain.Requester, error) {
	var r domain.Requester
	if err := db.WithContext(ctx).Where("requester_id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ChargeOne consumes one unit of allowance if any is left. It returns the
// number of affected rows: 1 when a unit was consumed, 0 otherwise.
func ChargeOne(ctx context.Context, db *gorm.DB, id int64) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Requester{}).
		Where("requester_id = ? AND free_remaining > 0", id).
		Updates(map[string]any{
			"free_remaining": gorm.Expr("free_remaining - 1"),
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// GrantByID adds count units to the requester with the given id.
func GrantByID(ctx context.Context, db *gorm.DB, id int64, count int) (int64, error) {
	return grant(ctx, db, "requester_id = ?", id, count)
}

// GrantByName adds count units to every requester whose display name matches.
// A single leading "@" is dropped before matching.
func GrantByName(ctx context.Context, db *gorm.DB, displayName string, count int) (int64, error) {
	name := NormalizeDisplayName(displayName)
	if name == "" {
		return 0, nil
	}
	return grant(ctx, db, "display_name = ?", name, count)
}

func grant(ctx context.Context, db *gorm.DB, where string, arg any, count int) (int64, error) {
	if count <= 0 || count > MaxFreeRemaining {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Requester{}).
		Where(where, arg).
		Where("free_remaining <= ?", MaxFreeRemaining-count).
		Updates(map[string]any{
			"free_remaining": gorm.Expr("free_remaining + ?", count),
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// NormalizeDisplayName trims whitespace and a single leading "@".
func NormalizeDisplayName(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

// Stats is a snapshot of the ledger used by the admin API.
type Stats struct {
	Requesters    int64 `json:"requesters"`
	Whitelisted   int64 `json:"whitelisted"`
	FreeRemaining int64 `json:"free_remaining"`
}

// LedgerStats aggregates the users table. On an empty table all fields are 0.
func LedgerStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var s Stats
	q := db.WithContext(ctx).Model(&domain.Requester{})
	if err := q.Count(&s.Requesters).Error; err != nil {
		return Stats{}, err
	}
	if s.Requesters == 0 {
		return s, nil
	}
	if err := db.WithContext(ctx).Model(&domain.Requester{}).Where("whitelisted = ?", true).Count(&s.Whitelisted).Error; err != nil {
		return Stats{}, err
	}
	var row struct{ Total int64 }
	if err := db.WithContext(ctx).Model(&domain.Requester{}).
		Select("COALESCE(SUM(free_remaining), 0) AS total").
		Scan(&row).Error; err != nil {
		return Stats{}, err
	}
	s.FreeRemaining = row.Total
	return s, nil
}
