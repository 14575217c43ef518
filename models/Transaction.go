package models

import (
	"time"

	"gorm.io/gorm"
)

//goland:noinspection ALL
const (
	TX_PENDING      = "pending"
	TX_GRANTED      = "granted"
	TX_DECLINED     = "declined"
	TX_GRANT_FAILED = "grant_failed"
	TX_TIMEOUT      = "timeout"
)

// Transaction tracks one STK push from submission to its terminal state.
// The gateway callback resolves the row through CheckoutRequestID; a row
// still pending after the configured TTL is swept to TX_TIMEOUT.
type Transaction struct {
	gorm.Model

	Phone  string `gorm:"index"`
	Amount int

	CheckoutRequestID string `gorm:"uniqueIndex;size:64"`
	MerchantRequestID string

	Status     string `gorm:"index"`
	ResultCode int
	ResultDesc string

	// internal request id, correlates handler logs with the row
	RequestID string

	// access expiry written to the ledger, set once granted
	ExpiresAt *time.Time
}
