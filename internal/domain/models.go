// Package domain defines the persistence models and value types of the track
// bot: requester entitlements, pending payments, processed transport updates,
// and the track/job types that flow through the resolver, download engine and
// admission queue.
package domain

import (
	"time"
)

// DefaultFreeDownloads is the allowance a requester receives on first contact.
const DefaultFreeDownloads = 1

// Requester is the entitlement record of a single requester. One row per
// requester, created lazily on first contact and never deleted.
//
// Fields:
//   - ID: transport-level requester id (Telegram user id), primary key.
//   - DisplayName: username as seen at creation time (indexed, used by grants).
//   - FreeRemaining: free-download allowance, never negative.
//   - Whitelisted: exemption flag, evaluated once at creation time.
type Requester struct {
	ID            int64     `json:"id"             gorm:"column:requester_id;primaryKey;autoIncrement:false"`
	DisplayName   string    `json:"display_name"   gorm:"type:varchar(64);index:idx_requester_name"`
	FreeRemaining int       `json:"free_remaining" gorm:"not null;default:1;check:free_remaining >= 0"`
	Whitelisted   bool      `json:"whitelisted"    gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Requester.
func (Requester) TableName() string { return "users" }

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Payment is an invoice issued to a requester whose allowance is exhausted.
// The invoice payload is the payment ID, so a confirmation can be matched back
// to the original track reference.
type Payment struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	RequesterID int64      `json:"requester_id" gorm:"not null;index"`
	ChatID      int64      `json:"chat_id"      gorm:"not null"`
	Reference   string     `json:"reference"    gorm:"type:text;not null"`
	Amount      int        `json:"amount"       gorm:"not null"`
	Status      string     `json:"status"       gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','paid')"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// ProcessedUpdate records a transport update that has already been handled.
// The transport redelivers updates it considers unacknowledged, so the
// update id is claimed before dispatch and duplicates are dropped.
type ProcessedUpdate struct {
	UpdateID  int64     `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }
