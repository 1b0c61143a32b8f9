package repository

import (
	"context"
	"testing"

	"taxcore/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteByReference_LeavesGlobalLinks(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAssignmentRepository(db)

	first, second := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "tax_assignments" WHERE assignable_type = \$1 AND assignable_id = \$2 AND is_global = \$3`).
		WithArgs("merchant", "m-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tax_group_id", "assignable_type", "assignable_id", "is_global"}).
			AddRow(first.String(), uuid.New().String(), "merchant", "m-1", false).
			AddRow(second.String(), uuid.New().String(), "merchant", "m-1", false))
	mock.ExpectExec(`DELETE FROM "tax_assignments" WHERE id IN \(\$1,\$2\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	removed, err := repo.DeleteByReference(context.Background(), model.Reference{Type: "merchant", ID: "m-1"})

	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, first, removed[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByReference_NothingToRemove(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "tax_assignments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	removed, err := repo.DeleteByReference(context.Background(), model.Reference{Type: "merchant", ID: "m-9"})

	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
