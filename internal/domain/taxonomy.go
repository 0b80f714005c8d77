package domain

import "time"

// Level represents an academic year tier (for example PCEM1 or DCEM3).
type Level struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null;uniqueIndex:idx_levels_name" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Level.
func (Level) TableName() string {
	return "levels"
}

// SubPeriod represents an ordered division within a level, such as a semester.
// Uniqueness is scoped to (level, order).
type SubPeriod struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	LevelID   string    `gorm:"type:text;not null;index:idx_sub_periods_level_order,unique" json:"level_id"`
	Order     int       `gorm:"column:position;not null;index:idx_sub_periods_level_order,unique" json:"order"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SubPeriod.
func (SubPeriod) TableName() string {
	return "sub_periods"
}

// Specialty represents a medical specialty (cardiology, pneumology, ...).
// Name is the uniqueness key. Level and sub-period links are optional and may
// be backfilled by an import run once they become known.
type Specialty struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	Name        string    `gorm:"type:text;not null;uniqueIndex:idx_specialties_name" json:"name"`
	LevelID     string    `gorm:"type:text;index" json:"level_id,omitempty"`
	SubPeriodID string    `gorm:"type:text;index" json:"sub_period_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Specialty.
func (Specialty) TableName() string {
	return "specialties"
}

// Lecture represents a course within a specialty. Uniqueness is scoped to
// (specialty, title).
type Lecture struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	SpecialtyID string    `gorm:"type:text;not null;index:idx_lectures_specialty_title,unique" json:"specialty_id"`
	Title       string    `gorm:"type:text;not null;index:idx_lectures_specialty_title,unique" json:"title"`
	Reminder    string    `gorm:"type:text" json:"reminder,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Lecture.
func (Lecture) TableName() string {
	return "lectures"
}
