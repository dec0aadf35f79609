package repository

import (
	"context"
	"errors"
	"fmt"

	"lostmatch/internal/models"

	"gorm.io/gorm"
)

// CaseRepositoryImpl is a READ-ONLY view over the cases table owned by the
// main application. The matching engine reads ownership and category
// metadata; it never writes case records.
type CaseRepositoryImpl struct {
	db *gorm.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *gorm.DB) *CaseRepositoryImpl {
	return &CaseRepositoryImpl{db: db}
}

// GetByID retrieves a case record
func (r *CaseRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("case not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// OwnerOf returns the owning user for a case
func (r *CaseRepositoryImpl) OwnerOf(ctx context.Context, caseID string) (string, error) {
	c, err := r.GetByID(ctx, caseID)
	if err != nil {
		return "", err
	}
	return c.OwnerID, nil
}
