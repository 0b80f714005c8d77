package domain

import "time"

// ClinicalCase is a shared text stem linking several sub-questions under one
// case number. Uniqueness is scoped to (lecture, number); the first imported
// row with a given number establishes the case text, later rows only attach
// questions.
type ClinicalCase struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	LectureID string    `gorm:"type:text;not null;index:idx_clinical_cases_lecture_number,unique" json:"lecture_id"`
	Number    int       `gorm:"not null;index:idx_clinical_cases_lecture_number,unique" json:"number"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ClinicalCase.
func (ClinicalCase) TableName() string {
	return "clinical_cases"
}
