package attempt

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusInitiated  = "initiated"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var InFlightStatuses = []string{StatusInitiated, StatusProcessing}

type Attempt struct {
	ID                   int64          `gorm:"primaryKey"`
	PaymentID            int64          `gorm:"column:payment_id;not null;uniqueIndex:idx_attempt_payment_number"`
	AttemptNumber        int            `gorm:"column:attempt_number;not null;uniqueIndex:idx_attempt_payment_number"`
	Status               string         `gorm:"column:status;size:20;not null;default:initiated"`
	TxRef                string         `gorm:"column:tx_ref;size:100;not null;uniqueIndex"`
	GatewayTransactionID *int64         `gorm:"column:gateway_transaction_id"`
	IsFailed             bool           `gorm:"column:is_failed;default:false"`
	ErrorMessage         string         `gorm:"column:error_message"`
	GatewayResponse      datatypes.JSON `gorm:"column:gateway_response"`
	ProcessingStartedAt  *time.Time     `gorm:"column:processing_started_at"`
	CompletedAt          *time.Time     `gorm:"column:completed_at"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
}

func (Attempt) TableName() string { return "payment_attempts" }

func (a *Attempt) InFlight() bool {
	return a.Status == StatusInitiated || a.Status == StatusProcessing
}

func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}
