package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sami/medbank/internal/domain"
	"gorm.io/gorm"
)

// ClinicalCaseRepository handles clinical case persistence.
type ClinicalCaseRepository struct {
	db *gorm.DB
}

// NewClinicalCaseRepository creates a new ClinicalCaseRepository.
func NewClinicalCaseRepository(db *gorm.DB) *ClinicalCaseRepository {
	return &ClinicalCaseRepository{db: db}
}

// Find retrieves a clinical case by (lecture, case number).
func (r *ClinicalCaseRepository) Find(ctx context.Context, lectureID string, number int) (*domain.ClinicalCase, error) {
	var c domain.ClinicalCase
	if err := r.db.WithContext(ctx).First(&c, "lecture_id = ? AND number = ?", lectureID, number).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new clinical case, assigning an ID when absent.
func (r *ClinicalCaseRepository) Create(ctx context.Context, c *domain.ClinicalCase) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	return r.db.WithContext(ctx).Create(c).Error
}
