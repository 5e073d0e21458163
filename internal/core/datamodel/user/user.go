package user

import "time"

type User struct {
	ID               int64     `gorm:"primaryKey"`
	Email            string    `gorm:"column:email;uniqueIndex;not null"`
	Name             string    `gorm:"column:name;not null"`
	Phone            string    `gorm:"column:phone"`
	PasswordHash     string    `gorm:"column:password_hash;not null"`
	Role             string    `gorm:"column:role;default:buyer"`
	IsActive         bool      `gorm:"column:is_active;default:true"`
	TwoFactorEnabled bool      `gorm:"column:two_factor_enabled;default:false"`
	TwoFactorMethod  string    `gorm:"column:two_factor_method"`
	TOTPSecret       string    `gorm:"column:totp_secret"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

type Permission struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

type UserPermission struct {
	ID           int64     `gorm:"primaryKey"`
	UserID       int64     `gorm:"column:user_id;not null"`
	PermissionID int64     `gorm:"column:permission_id;not null"`
	GrantedBy    *int64    `gorm:"column:granted_by"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}
