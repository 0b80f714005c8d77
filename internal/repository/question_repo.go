package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sami/medbank/internal/domain"
	"gorm.io/gorm"
)

// QuestionRepository handles question persistence.
type QuestionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a new question record, assigning an ID when absent.
func (r *QuestionRepository) Create(ctx context.Context, q *domain.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now
	return r.db.WithContext(ctx).Create(q).Error
}

// Update saves changes to an existing question (AI correction pass).
func (r *QuestionRepository) Update(ctx context.Context, q *domain.Question) error {
	q.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(q).Error
}

// GetByID retrieves a question by its ID.
func (r *QuestionRepository) GetByID(ctx context.Context, id string) (*domain.Question, error) {
	var q domain.Question
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// ListByLecture lists questions for a lecture, ordered by number.
func (r *QuestionRepository) ListByLecture(ctx context.Context, lectureID string) ([]domain.Question, error) {
	var questions []domain.Question
	err := r.db.WithContext(ctx).
		Where("lecture_id = ?", lectureID).
		Order("number asc").
		Find(&questions).Error
	return questions, err
}

// CountByLecture counts questions for a lecture.
func (r *QuestionRepository) CountByLecture(ctx context.Context, lectureID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Question{}).
		Where("lecture_id = ?", lectureID).
		Count(&count).Error
	return count, err
}
