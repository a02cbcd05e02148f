package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit record of a change to an identifier's trust state
type ReputationEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Identifier string    `gorm:"index;not null" json:"identifier"`
	Action     string    `gorm:"not null" json:"action"`
	Source     string    `gorm:"not null" json:"source"` // "manual" or "auto"
	LimitType  string    `json:"limit_type,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

const (
	ActionWhitelistAdd    = "whitelist_add"
	ActionWhitelistRemove = "whitelist_remove"
	ActionBlacklistAdd    = "blacklist_add"
	ActionBlacklistRemove = "blacklist_remove"
	ActionReset           = "reset"
	ActionEscalated       = "escalated"

	SourceManual = "manual"
	SourceAuto   = "auto"
)

func (e *ReputationEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (ReputationEvent) TableName() string {
	return "reputation_events"
}
