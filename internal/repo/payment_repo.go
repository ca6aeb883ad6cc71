// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Payment
// model that backs the payment gate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-track-bot/internal/domain"
)

// CreatePayment records a pending invoice for reference. The generated ID is
// used as the invoice payload.
func CreatePayment(ctx context.Context, db *gorm.DB, requesterID, chatID int64, reference string, amount int) (*domain.Payment, error) {
	p := &domain.Payment{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ChatID:      chatID,
		Reference:   reference,
		Amount:      amount,
		Status:      domain.PaymentPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment fetches a payment owned by requesterID, or ErrNotFound.
func GetPayment(ctx context.Context, db *gorm.DB, id string, requesterID int64) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).
		Where("id = ? AND requester_id = ?", id, requesterID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SettlePayment flips a pending payment to paid. Exactly one caller observes
// settled=true for a given payment; redelivered confirmations see false.
func SettlePayment(ctx context.Context, db *gorm.DB, id string, requesterID int64) (settled bool, err error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND requester_id = ? AND status = ?", id, requesterID, domain.PaymentPending).
		Updates(map[string]any{
			"status":  domain.PaymentPaid,
			"paid_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
