package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sami/medbank/internal/domain"
	"gorm.io/gorm"
)

// TaxonomyRepository handles Specialty, Lecture, Level, and SubPeriod
// persistence. All lookups return gorm.ErrRecordNotFound when no row matches;
// callers use that as the find-or-create discriminator.
type TaxonomyRepository struct {
	db *gorm.DB
}

// NewTaxonomyRepository creates a new TaxonomyRepository.
func NewTaxonomyRepository(db *gorm.DB) *TaxonomyRepository {
	return &TaxonomyRepository{db: db}
}

// FindSpecialtyByName retrieves a specialty by its unique name.
func (r *TaxonomyRepository) FindSpecialtyByName(ctx context.Context, name string) (*domain.Specialty, error) {
	var s domain.Specialty
	if err := r.db.WithContext(ctx).First(&s, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSpecialty inserts a new specialty, assigning an ID when absent.
func (r *TaxonomyRepository) CreateSpecialty(ctx context.Context, s *domain.Specialty) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	return r.db.WithContext(ctx).Create(s).Error
}

// UpdateSpecialty saves changes to an existing specialty (level/sub-period
// backfill).
func (r *TaxonomyRepository) UpdateSpecialty(ctx context.Context, s *domain.Specialty) error {
	s.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(s).Error
}

// FindLecture retrieves a lecture by (specialty, title).
func (r *TaxonomyRepository) FindLecture(ctx context.Context, specialtyID, title string) (*domain.Lecture, error) {
	var l domain.Lecture
	if err := r.db.WithContext(ctx).First(&l, "specialty_id = ? AND title = ?", specialtyID, title).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLecture inserts a new lecture, assigning an ID when absent.
func (r *TaxonomyRepository) CreateLecture(ctx context.Context, l *domain.Lecture) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	return r.db.WithContext(ctx).Create(l).Error
}

// FindLevelByName retrieves a level by its canonical name.
func (r *TaxonomyRepository) FindLevelByName(ctx context.Context, name string) (*domain.Level, error) {
	var lv domain.Level
	if err := r.db.WithContext(ctx).First(&lv, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &lv, nil
}

// CreateLevel inserts a new level, assigning an ID when absent.
func (r *TaxonomyRepository) CreateLevel(ctx context.Context, lv *domain.Level) error {
	if lv.ID == "" {
		lv.ID = uuid.New().String()
	}
	now := time.Now()
	lv.CreatedAt = now
	lv.UpdatedAt = now
	return r.db.WithContext(ctx).Create(lv).Error
}

// FindSubPeriod retrieves a sub-period by (level, order).
func (r *TaxonomyRepository) FindSubPeriod(ctx context.Context, levelID string, order int) (*domain.SubPeriod, error) {
	var sp domain.SubPeriod
	if err := r.db.WithContext(ctx).First(&sp, "level_id = ? AND position = ?", levelID, order).Error; err != nil {
		return nil, err
	}
	return &sp, nil
}

// CreateSubPeriod inserts a new sub-period, assigning an ID when absent.
func (r *TaxonomyRepository) CreateSubPeriod(ctx context.Context, sp *domain.SubPeriod) error {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	now := time.Now()
	sp.CreatedAt = now
	sp.UpdatedAt = now
	return r.db.WithContext(ctx).Create(sp).Error
}
