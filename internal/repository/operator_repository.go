package repository

import (
	"context"
	"strings"

	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

// OperatorRepository reads the operator roster worksheet: a header row, then
// ID, Name and Status in columns A to C.
type OperatorRepository struct {
	store     sheet.Store
	sheetName string
}

func NewOperatorRepository(store sheet.Store, sheetName string) *OperatorRepository {
	return &OperatorRepository{store: store, sheetName: sheetName}
}

// FindOperator returns the operator with the given ID, or nil if unlisted.
func (r *OperatorRepository) FindOperator(ctx context.Context, operatorID string) (*model.Operator, error) {
	rows, err := r.store.ReadRange(ctx, sheet.Range{Sheet: r.sheetName, FirstRow: 2})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if strings.TrimSpace(sheet.Value(row, 0)) != operatorID {
			continue
		}
		return &model.Operator{
			OperatorID: operatorID,
			Name:       strings.TrimSpace(sheet.Value(row, 1)),
			Status:     strings.TrimSpace(sheet.Value(row, 2)),
		}, nil
	}
	return nil, nil
}
