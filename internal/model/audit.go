package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateTax            = "CREATE_TAX"
	ActionSetTaxActive         = "SET_TAX_ACTIVE"
	ActionCreateTaxGroup       = "CREATE_TAX_GROUP"
	ActionSetTaxGroupActive    = "SET_TAX_GROUP_ACTIVE"
	ActionDeleteTaxGroup       = "DELETE_TAX_GROUP"
	ActionCreateTaxRate        = "CREATE_TAX_RATE"
	ActionExpireTaxRate        = "EXPIRE_TAX_RATE"
	ActionAssignTaxGroup       = "ASSIGN_TAX_GROUP"
	ActionDeleteTaxAssignment  = "DELETE_TAX_ASSIGNMENT"
	ActionDeleteEntityTaxLinks = "DELETE_ENTITY_TAX_ASSIGNMENTS"
)

// AuditLog records who changed which piece of tax configuration, and when
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ActorID    *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"` // nil for automated callers
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(100);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (l *AuditLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
