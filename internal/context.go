package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	ContextUserKey        ctxKey = "userID"
	ContextPermissionsKey ctxKey = "permissions"
)

func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	userID, ok := ctx.Value(ContextUserKey).(int64)
	return userID, ok && userID > 0
}

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ContextUserKey, userID)
}

func PermissionsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	perms, _ := ctx.Value(ContextPermissionsKey).([]string)
	return perms
}

func ContextWithPermissions(ctx context.Context, permissions []string) context.Context {
	return context.WithValue(ctx, ContextPermissionsKey, permissions)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
