package repository

import (
	"context"
	"time"

	"taxcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateRepository is the persistence boundary for taxes, tax groups and tax
// rates. It holds no caching or business rules.
type RateRepository interface {
	CreateTax(ctx context.Context, tax *model.Tax) error
	GetTax(ctx context.Context, id uuid.UUID) (*model.Tax, error)
	FindTaxBySlug(ctx context.Context, ownerType string, ownerID *uuid.UUID, slug string) (*model.Tax, error)
	ListTaxes(ctx context.Context, page, limit int) ([]model.Tax, int64, error)
	SetTaxActive(ctx context.Context, id uuid.UUID, active bool) error

	CreateGroup(ctx context.Context, group *model.TaxGroup) error
	GetGroup(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error)
	GetGroups(ctx context.Context, ids []uuid.UUID) ([]model.TaxGroup, error)
	ListGroups(ctx context.Context, page, limit int) ([]model.TaxGroup, int64, error)
	SetGroupActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error)

	CreateRate(ctx context.Context, rate *model.TaxRate) error
	GetRate(ctx context.Context, id uuid.UUID) (*model.TaxRate, error)
	GetRates(ctx context.Context, groupID uuid.UUID) ([]model.TaxRate, error)
	GroupIDsForTax(ctx context.Context, taxID uuid.UUID) ([]uuid.UUID, error)
	ExpireRate(ctx context.Context, id uuid.UUID, until time.Time) error
}

type rateRepository struct {
	db *gorm.DB
}

func NewRateRepository(db *gorm.DB) RateRepository {
	return &rateRepository{db: db}
}

// --- Taxes ---

func (r *rateRepository) CreateTax(ctx context.Context, tax *model.Tax) error {
	return translate(GetDB(ctx, r.db).Create(tax).Error, "tax.create", "tax", tax.Slug)
}

func (r *rateRepository) GetTax(ctx context.Context, id uuid.UUID) (*model.Tax, error) {
	var tax model.Tax
	if err := GetDB(ctx, r.db).First(&tax, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tax.get", "tax", id)
	}
	return &tax, nil
}

func (r *rateRepository) FindTaxBySlug(ctx context.Context, ownerType string, ownerID *uuid.UUID, slug string) (*model.Tax, error) {
	query := GetDB(ctx, r.db).Where("owner_type = ? AND slug = ?", ownerType, slug)
	if ownerID == nil {
		query = query.Where("owner_id IS NULL")
	} else {
		query = query.Where("owner_id = ?", *ownerID)
	}

	var tax model.Tax
	if err := query.First(&tax).Error; err != nil {
		return nil, translate(err, "tax.find_by_slug", "tax", slug)
	}
	return &tax, nil
}

func (r *rateRepository) ListTaxes(ctx context.Context, page, limit int) ([]model.Tax, int64, error) {
	var taxes []model.Tax
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Tax{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "tax.list", "tax", nil)
	}

	offset := (page - 1) * limit
	if err := db.Order("owner_type, name").Offset(offset).Limit(limit).Find(&taxes).Error; err != nil {
		return nil, 0, translate(err, "tax.list", "tax", nil)
	}
	return taxes, total, nil
}

func (r *rateRepository) SetTaxActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := GetDB(ctx, r.db).Model(&model.Tax{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error, "tax.set_active", "tax", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "tax.set_active", "tax", id)
	}
	return nil
}

// --- Groups ---

func (r *rateRepository) CreateGroup(ctx context.Context, group *model.TaxGroup) error {
	return translate(GetDB(ctx, r.db).Omit("Rates", "Assignments").Create(group).Error, "tax_group.create", "tax group", group.Name)
}

func (r *rateRepository) GetGroup(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error) {
	var group model.TaxGroup
	if err := GetDB(ctx, r.db).First(&group, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tax_group.get", "tax group", id)
	}
	return &group, nil
}

func (r *rateRepository) GetGroups(ctx context.Context, ids []uuid.UUID) ([]model.TaxGroup, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var groups []model.TaxGroup
	if err := GetDB(ctx, r.db).Where("id IN ?", ids).Order("name, id").Find(&groups).Error; err != nil {
		return nil, translate(err, "tax_group.get_many", "tax group", nil)
	}
	return groups, nil
}

func (r *rateRepository) ListGroups(ctx context.Context, page, limit int) ([]model.TaxGroup, int64, error) {
	var groups []model.TaxGroup
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.TaxGroup{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "tax_group.list", "tax group", nil)
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&groups).Error; err != nil {
		return nil, 0, translate(err, "tax_group.list", "tax group", nil)
	}
	return groups, total, nil
}

func (r *rateRepository) SetGroupActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := GetDB(ctx, r.db).Model(&model.TaxGroup{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error, "tax_group.set_active", "tax group", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "tax_group.set_active", "tax group", id)
	}
	return nil
}

// DeleteGroup removes the group with its rates and assignments atomically and
// returns the total number of rows removed across the three tables.
func (r *rateRepository) DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error) {
	var removed int64

	err := runInTx(ctx, r.db, func(txCtx context.Context) error {
		db := GetDB(txCtx, r.db)

		var group model.TaxGroup
		if err := db.Select("id").First(&group, "id = ?", id).Error; err != nil {
			return translate(err, "tax_group.delete", "tax group", id)
		}

		res := db.Where("tax_group_id = ?", id).Delete(&model.TaxAssignment{})
		if res.Error != nil {
			return translate(res.Error, "tax_group.delete", "tax assignment", nil)
		}
		removed += res.RowsAffected

		res = db.Where("tax_group_id = ?", id).Delete(&model.TaxRate{})
		if res.Error != nil {
			return translate(res.Error, "tax_group.delete", "tax rate", nil)
		}
		removed += res.RowsAffected

		res = db.Where("id = ?", id).Delete(&model.TaxGroup{})
		if res.Error != nil {
			return translate(res.Error, "tax_group.delete", "tax group", id)
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// --- Rates ---

func (r *rateRepository) CreateRate(ctx context.Context, rate *model.TaxRate) error {
	return translate(GetDB(ctx, r.db).Omit("Tax").Create(rate).Error, "tax_rate.create", "tax rate", rate.ID)
}

func (r *rateRepository) GetRate(ctx context.Context, id uuid.UUID) (*model.TaxRate, error) {
	var rate model.TaxRate
	if err := GetDB(ctx, r.db).Preload("Tax").First(&rate, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tax_rate.get", "tax rate", id)
	}
	return &rate, nil
}

// GetRates returns every rate of the group, Tax preloaded, in cascade order.
func (r *rateRepository) GetRates(ctx context.Context, groupID uuid.UUID) ([]model.TaxRate, error) {
	var rates []model.TaxRate
	if err := GetDB(ctx, r.db).
		Preload("Tax").
		Where("tax_group_id = ?", groupID).
		Order("priority ASC, tax_id ASC, id ASC").
		Find(&rates).Error; err != nil {
		return nil, translate(err, "tax_rate.list", "tax rate", nil)
	}
	return rates, nil
}

func (r *rateRepository) GroupIDsForTax(ctx context.Context, taxID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := GetDB(ctx, r.db).
		Model(&model.TaxRate{}).
		Where("tax_id = ?", taxID).
		Distinct().
		Pluck("tax_group_id", &ids).Error; err != nil {
		return nil, translate(err, "tax_rate.groups_for_tax", "tax rate", nil)
	}
	return ids, nil
}

func (r *rateRepository) ExpireRate(ctx context.Context, id uuid.UUID, until time.Time) error {
	res := GetDB(ctx, r.db).Model(&model.TaxRate{}).Where("id = ?", id).Update("valid_until", until)
	if res.Error != nil {
		return translate(res.Error, "tax_rate.expire", "tax rate", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "tax_rate.expire", "tax rate", id)
	}
	return nil
}
