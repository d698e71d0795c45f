package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ModuleType is one independently billable analysis type.
type ModuleType string

const (
	ModulePaint         ModuleType = "paint"
	ModuleDamage        ModuleType = "damage"
	ModuleAudio         ModuleType = "audio"
	ModuleValue         ModuleType = "value"
	ModuleComprehensive ModuleType = "comprehensive"
)

// Valid reports whether m names a known module.
func (m ModuleType) Valid() bool {
	switch m {
	case ModulePaint, ModuleDamage, ModuleAudio, ModuleValue, ModuleComprehensive:
		return true
	default:
		return false
	}
}

// ReportStatus is the lifecycle state. pending and processing are live;
// completed and failed are terminal and never left.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
)

// Terminal reports whether s permits no further transition.
func (s ReportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Report ties one billing event to one asynchronous analysis. Rows are
// created in processing (the credit reservation happens first), reach
// exactly one terminal state, and are immutable afterwards except for
// the PDF export marker.
type Report struct {
	ID            snowflake.ID                `gorm:"primaryKey"`
	UserID        snowflake.ID                `gorm:"not null;index"`
	ModuleType    ModuleType                  `gorm:"type:text;not null"`
	Status        ReportStatus                `gorm:"type:text;not null;index"`
	CostCharged   int64                       `gorm:"not null"`
	InputRefs     datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	ResultPayload datatypes.JSONMap           `gorm:"type:jsonb"`
	FailureNote   string                      `gorm:"type:text"`
	PDFExportedAt *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Report) TableName() string { return "reports" }
