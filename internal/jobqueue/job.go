package jobqueue

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is a unit of background work. Delivery is at-least-once: a handler may
// see the same job more than once and must re-read state before acting.
type Job struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Name        string            `gorm:"type:text;not null;index:ix_jobs_claim,priority:2"`
	Args        datatypes.JSONMap `gorm:"type:jsonb"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	Attempt     int               `gorm:"not null;default:0"`
	MaxAttempts int               `gorm:"not null;default:0"`
	Status      Status            `gorm:"type:text;not null;index:ix_jobs_claim,priority:1"`
	RunAt       time.Time         `gorm:"not null;index:ix_jobs_claim,priority:3"`
	LockedAt    *time.Time
	FinishedAt  *time.Time
	LastError   *string `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "jobs" }

// ArgString returns a trimmed string argument or "".
func (j Job) ArgString(key string) string {
	if j.Args == nil {
		return ""
	}
	switch v := j.Args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// ArgID parses a required snowflake id argument.
func (j Job) ArgID(key string) (snowflake.ID, error) {
	raw := j.ArgString(key)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s is not a valid id", ErrInvalidArgs, key)
	}
	return id, nil
}

// ArgOptionalID parses an optional snowflake id argument.
func (j Job) ArgOptionalID(key string) (*snowflake.ID, error) {
	if j.ArgString(key) == "" {
		return nil, nil
	}
	id, err := j.ArgID(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ArgMap returns a nested object argument.
func (j Job) ArgMap(key string) map[string]any {
	if j.Args == nil {
		return nil
	}
	if m, ok := j.Args[key].(map[string]any); ok {
		return m
	}
	return nil
}
