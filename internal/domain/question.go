package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// QuestionKind tags a question with its variant.
// Values include KindMCQ, KindQROC, KindClinicMCQ, and KindClinicQROC.
type QuestionKind string

const (
	KindMCQ        QuestionKind = "mcq"
	KindQROC       QuestionKind = "qroc"
	KindClinicMCQ  QuestionKind = "clinic_mcq"
	KindClinicQROC QuestionKind = "clinic_qroc"
)

// IsClinical reports whether the kind belongs to a clinical case.
func (k QuestionKind) IsClinical() bool {
	return k == KindClinicMCQ || k == KindClinicQROC
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// IntArray stores integer arrays as JSON, used for correct-answer indexes.
type IntArray []int

// Value implements the driver.Valuer interface for database serialization.
func (a IntArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *IntArray) Scan(value interface{}) error {
	if value == nil {
		*a = IntArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan IntArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Question represents one exam question created from a spreadsheet row.
//
// MCQ kinds carry Options (up to five, letters A-E) and CorrectAnswers as
// zero-based option indexes. QROC kinds carry a single free-text reference
// answer in ReferenceAnswer. Clinical kinds additionally link to a
// ClinicalCase through CaseID/CaseNumber.
type Question struct {
	ID              string       `gorm:"type:text;primaryKey" json:"id"`
	LectureID       string       `gorm:"type:text;not null;index" json:"lecture_id"`
	Kind            QuestionKind `gorm:"type:text;not null;index" json:"kind"`
	Number          int          `json:"number,omitempty"`
	SourceLabel     string       `gorm:"type:text" json:"source_label,omitempty"`
	Text            string       `gorm:"type:text;not null" json:"text"`
	Options         StringArray  `gorm:"type:text" json:"options,omitempty"`
	CorrectAnswers  IntArray     `gorm:"type:text" json:"correct_answers,omitempty"`
	ReferenceAnswer string       `gorm:"type:text" json:"reference_answer,omitempty"`
	Explanation     string       `gorm:"type:text" json:"explanation,omitempty"`
	MediaURL        string       `gorm:"type:text" json:"media_url,omitempty"`
	CaseID          string       `gorm:"type:text;index" json:"case_id,omitempty"`
	CaseNumber      int          `json:"case_number,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Question.
func (Question) TableName() string {
	return "questions"
}
