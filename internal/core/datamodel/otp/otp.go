package otp

import "time"

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelApp   = "app"
)

// Code is one issued second-factor challenge. CodeHash is empty for the
// authenticator-app channel, where the code is derived from the user's secret.
type Code struct {
	ID        int64      `gorm:"primaryKey"`
	UserID    int64      `gorm:"column:user_id;not null;index"`
	Channel   string     `gorm:"column:channel;size:10;not null"`
	CodeHash  string     `gorm:"column:code_hash"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null"`
	IsUsed    bool       `gorm:"column:is_used;not null;default:false"`
	Attempts  int        `gorm:"column:attempts;not null;default:0"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
}

func (Code) TableName() string { return "otp_codes" }
