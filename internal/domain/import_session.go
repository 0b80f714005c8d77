package domain

import "time"

// ImportPhase represents the lifecycle phase of an import session.
// Values include PhaseValidating, PhaseImporting, and PhaseComplete.
type ImportPhase string

const (
	PhaseValidating ImportPhase = "validating"
	PhaseImporting  ImportPhase = "importing"
	PhaseComplete   ImportPhase = "complete"
)

// ImportStats accumulates counters for one import run. Counters only grow
// while the run is active and are frozen once the session reaches
// PhaseComplete.
type ImportStats struct {
	Total               int      `json:"total"`
	Imported            int      `json:"imported"`
	Failed              int      `json:"failed"`
	CreatedSpecialties  int      `json:"created_specialties"`
	CreatedLectures     int      `json:"created_lectures"`
	CreatedCases        int      `json:"created_cases"`
	QuestionsWithImages int      `json:"questions_with_images"`
	Errors              []string `json:"errors,omitempty"`
}

// maxStatErrors bounds the per-run error list so a pathological workbook
// cannot grow a session without limit.
const maxStatErrors = 100

// AddError appends an error message to the bounded error list.
func (s *ImportStats) AddError(msg string) {
	if len(s.Errors) < maxStatErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// ImportSession is the in-memory progress record for one import run. It is
// owned by the run that created it and mutated only through the session
// store; there is no durability across process restarts.
type ImportSession struct {
	ID          string      `json:"id"`
	Phase       ImportPhase `json:"phase"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	Logs        []string    `json:"logs"`
	Stats       ImportStats `json:"stats"`
	Cancelled   bool        `json:"cancelled"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`
}
