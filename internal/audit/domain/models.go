package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records a credit movement or report transition for later
// manual follow-up. Support staff use these rows to resolve refunds
// that could not be posted automatically.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     snowflake.ID      `gorm:"not null;index"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, userID snowflake.ID, action, targetType string, targetID *string, metadata map[string]any) error
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidUser   = errors.New("invalid_user")
)
