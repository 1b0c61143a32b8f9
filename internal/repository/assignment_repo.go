package repository

import (
	"context"

	"taxcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssignmentRepository stores the polymorphic links between tax groups and
// taxable entities.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *model.TaxAssignment) error
	CreateBatch(ctx context.Context, assignments []*model.TaxAssignment) error
	Get(ctx context.Context, id uuid.UUID) (*model.TaxAssignment, error)
	FindByReference(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error)
	FindByGroup(ctx context.Context, groupID uuid.UUID) ([]model.TaxAssignment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByReference(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *model.TaxAssignment) error {
	return translate(GetDB(ctx, r.db).Create(assignment).Error, "tax_assignment.create", "tax assignment", assignment.Reference())
}

// CreateBatch inserts all assignments in one transaction; a duplicate anywhere
// rolls back the whole batch.
func (r *assignmentRepository) CreateBatch(ctx context.Context, assignments []*model.TaxAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return runInTx(ctx, r.db, func(txCtx context.Context) error {
		db := GetDB(txCtx, r.db)
		for _, a := range assignments {
			if err := db.Create(a).Error; err != nil {
				return translate(err, "tax_assignment.create_batch", "tax assignment", a.Reference())
			}
		}
		return nil
	})
}

func (r *assignmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.TaxAssignment, error) {
	var a model.TaxAssignment
	if err := GetDB(ctx, r.db).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tax_assignment.get", "tax assignment", id)
	}
	return &a, nil
}

// FindByReference returns the direct assignments of the entity plus the
// global assignments of its type.
func (r *assignmentRepository) FindByReference(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	var rows []model.TaxAssignment
	if err := GetDB(ctx, r.db).
		Where("assignable_type = ? AND (assignable_id = ? OR is_global = ?)", ref.Type, ref.ID, true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, translate(err, "tax_assignment.find_by_reference", "tax assignment", ref)
	}
	return rows, nil
}

func (r *assignmentRepository) FindByGroup(ctx context.Context, groupID uuid.UUID) ([]model.TaxAssignment, error) {
	var rows []model.TaxAssignment
	if err := GetDB(ctx, r.db).
		Where("tax_group_id = ?", groupID).
		Order("assignable_type, assignable_id").
		Find(&rows).Error; err != nil {
		return nil, translate(err, "tax_assignment.find_by_group", "tax assignment", nil)
	}
	return rows, nil
}

func (r *assignmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.TaxAssignment{})
	if res.Error != nil {
		return translate(res.Error, "tax_assignment.delete", "tax assignment", id)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "tax_assignment.delete", "tax assignment", id)
	}
	return nil
}

// DeleteByReference removes the direct assignments of an entity (global links
// of its type are left alone) and returns the removed rows.
func (r *assignmentRepository) DeleteByReference(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	var removed []model.TaxAssignment

	err := runInTx(ctx, r.db, func(txCtx context.Context) error {
		db := GetDB(txCtx, r.db)
		if err := db.Where("assignable_type = ? AND assignable_id = ? AND is_global = ?", ref.Type, ref.ID, false).
			Find(&removed).Error; err != nil {
			return translate(err, "tax_assignment.delete_by_reference", "tax assignment", ref)
		}
		if len(removed) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(removed))
		for _, a := range removed {
			ids = append(ids, a.ID)
		}
		if err := db.Where("id IN ?", ids).Delete(&model.TaxAssignment{}).Error; err != nil {
			return translate(err, "tax_assignment.delete_by_reference", "tax assignment", ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
