package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Owner scopes shared by Tax and TaxGroup
const (
	OwnerTypeSystem    = "system"
	OwnerTypeMerchant  = "merchant"
	OwnerTypeFranchise = "franchise"
)

// TaxRate.Type values
const (
	RateTypePercentage = "percentage"
	RateTypeFixed      = "fixed"
)

// TaxRate.BasedOn values
const (
	BasedOnSubtotal              = "subtotal"
	BasedOnTotalAfterPreviousTax = "total_after_previous_tax"
)

// GlobalAssignableID is the legacy sentinel id meaning "every entity of this
// type". It is accepted on input and stored as IsGlobal with an empty id.
const GlobalAssignableID = "all"

// Tax is a named tax concept (e.g. PPN, Service Charge), independent of any rate
type Tax struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerType   string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_taxes_owner_slug,priority:1" json:"owner_type"`
	OwnerID     *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_taxes_owner_slug,priority:2" json:"owner_id"` // null only for system
	Name        string     `gorm:"type:varchar(150);not null" json:"name"`
	Slug        string     `gorm:"type:varchar(150);not null;uniqueIndex:idx_taxes_owner_slug,priority:3" json:"slug"`
	Description string     `gorm:"type:text" json:"description"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaxGroup bundles TaxRates that are assigned to entities as a unit
type TaxGroup struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerType   string          `gorm:"type:varchar(20);not null;index:idx_tax_groups_owner" json:"owner_type"`
	OwnerID     *uuid.UUID      `gorm:"type:uuid;index:idx_tax_groups_owner" json:"owner_id"`
	Name        string          `gorm:"type:varchar(150);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	IsActive    bool            `gorm:"not null;default:true" json:"is_active"`
	Rates       []TaxRate       `gorm:"foreignKey:TaxGroupID;constraint:OnDelete:CASCADE" json:"-"`
	Assignments []TaxAssignment `gorm:"foreignKey:TaxGroupID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TaxRate is one time-bounded, optionally price-tiered rate of a group.
// Rows are append-only: a rate change is a new row with a new window.
type TaxRate struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TaxGroupID  uuid.UUID        `gorm:"type:uuid;not null;index" json:"tax_group_id"`
	TaxID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"tax_id"`
	Tax         *Tax             `gorm:"foreignKey:TaxID;constraint:OnDelete:RESTRICT" json:"tax,omitempty"`
	Rate        decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"rate"` // percent for percentage, amount for fixed
	Type        string           `gorm:"type:varchar(20);not null" json:"type"`
	IsInclusive bool             `gorm:"not null;default:false" json:"is_inclusive"`
	Priority    int              `gorm:"not null;default:0;index" json:"priority"` // lower runs first
	BasedOn     string           `gorm:"type:varchar(30);not null;default:subtotal" json:"based_on"`
	ValidFrom   time.Time        `gorm:"not null;index" json:"valid_from"`
	ValidUntil  *time.Time       `gorm:"index" json:"valid_until"` // null = open-ended
	MinPrice    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"min_price"`
	MaxPrice    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_price"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TaxAssignment links a TaxGroup to an arbitrary tagged entity
type TaxAssignment struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TaxGroupID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tax_assignments_unique,priority:1" json:"tax_group_id"`
	AssignableType string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_tax_assignments_unique,priority:2;index:idx_tax_assignments_ref,priority:1" json:"assignable_type"`
	AssignableID   string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_tax_assignments_unique,priority:3;index:idx_tax_assignments_ref,priority:2" json:"assignable_id"` // empty when IsGlobal
	IsGlobal       bool      `gorm:"not null;default:false" json:"is_global"`
	CreatedAt      time.Time `json:"created_at"`
}

func (t *Tax) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (g *TaxGroup) BeforeCreate(_ *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

func (r *TaxRate) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (a *TaxAssignment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Reference identifies a taxable entity by (type, id), e.g. ("region", "ID-JK")
type Reference struct {
	Type string `json:"type" binding:"required"`
	ID   string `json:"id" binding:"required"`
}

// Normalize trims both parts and lower-cases the type.
func (r Reference) Normalize() Reference {
	return Reference{
		Type: strings.ToLower(strings.TrimSpace(r.Type)),
		ID:   strings.TrimSpace(r.ID),
	}
}

// IsGlobal reports whether the reference uses the "all" sentinel.
func (r Reference) IsGlobal() bool {
	return r.ID == GlobalAssignableID
}

func (r Reference) String() string {
	return r.Type + ":" + r.ID
}

// Reference returns the entity this assignment points at. Global
// assignments carry the "all" sentinel as id.
func (a TaxAssignment) Reference() Reference {
	if a.IsGlobal {
		return Reference{Type: a.AssignableType, ID: GlobalAssignableID}
	}
	return Reference{Type: a.AssignableType, ID: a.AssignableID}
}
