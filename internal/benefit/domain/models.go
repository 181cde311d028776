package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BenefitType is the closed set of benefit kinds the engine can provision.
type BenefitType string

const (
	BenefitTypeCustom           BenefitType = "custom"
	BenefitTypeDiscord          BenefitType = "discord"
	BenefitTypeGitHubRepository BenefitType = "github_repository"
	BenefitTypeDownloadables    BenefitType = "downloadables"
	BenefitTypeLicenseKeys      BenefitType = "license_keys"
	BenefitTypeMeterCredit      BenefitType = "meter_credit"
)

// AllBenefitTypes lists every BenefitType. The strategy registry refuses to
// start unless it covers all of them.
func AllBenefitTypes() []BenefitType {
	return []BenefitType{
		BenefitTypeCustom,
		BenefitTypeDiscord,
		BenefitTypeGitHubRepository,
		BenefitTypeDownloadables,
		BenefitTypeLicenseKeys,
		BenefitTypeMeterCredit,
	}
}

func (t BenefitType) Valid() bool {
	for _, known := range AllBenefitTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func ParseBenefitType(value string) (BenefitType, error) {
	t := BenefitType(value)
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

// Benefit is a merchant-configured entitlement definition. Type never changes
// after creation.
type Benefit struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Type        BenefitType       `gorm:"type:text;not null" json:"type"`
	Description string            `gorm:"type:text;not null" json:"description"`
	Properties  datatypes.JSONMap `gorm:"type:jsonb" json:"properties"`
	Deletable   bool              `gorm:"not null;default:true" json:"deletable"`
	Selectable  bool              `gorm:"not null;default:true" json:"selectable"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt   *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
}

func (Benefit) TableName() string { return "benefits" }

func (b *Benefit) IsDeleted() bool {
	return b != nil && b.DeletedAt != nil
}
