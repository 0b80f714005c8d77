package importer

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/sami/medbank/internal/ai"
	"github.com/sami/medbank/internal/domain"
	"github.com/sami/medbank/internal/logger"
	"github.com/sami/medbank/internal/media"
	"github.com/sami/medbank/internal/prompts"
	"github.com/sami/medbank/internal/repository"
	"github.com/sami/medbank/internal/session"
)

// yieldInterval is the row cadence at which the run loop checks cancellation
// and yields to the scheduler. The host process shares one scheduler with the
// API, so long imports must not starve it.
const yieldInterval = 25

// Service drives one workbook import end to end: canonicalize, transform,
// resolve, persist, and report progress into the session store. Rows are
// processed on a single goroutine so the resolver caches have exactly one
// writer.
type Service struct {
	taxonomy  *repository.TaxonomyRepository
	cases     *repository.ClinicalCaseRepository
	questions *repository.QuestionRepository
	sessions  *session.Store
	rehoster  *media.Rehoster
	corrector *ai.Orchestrator

	aiBatchSize   int
	aiConcurrency int
}

// Config holds import service configuration.
type Config struct {
	AIBatchSize   int
	AIConcurrency int
}

// NewService creates an import service. rehoster and corrector may be nil;
// the matching features then degrade to no-ops.
func NewService(
	taxonomy *repository.TaxonomyRepository,
	cases *repository.ClinicalCaseRepository,
	questions *repository.QuestionRepository,
	sessions *session.Store,
	rehoster *media.Rehoster,
	corrector *ai.Orchestrator,
	cfg *Config,
) *Service {
	batchSize := 10
	concurrency := 4
	if cfg != nil {
		if cfg.AIBatchSize > 0 {
			batchSize = cfg.AIBatchSize
		}
		if cfg.AIConcurrency > 0 {
			concurrency = cfg.AIConcurrency
		}
	}
	return &Service{
		taxonomy:      taxonomy,
		cases:         cases,
		questions:     questions,
		sessions:      sessions,
		rehoster:      rehoster,
		corrector:     corrector,
		aiBatchSize:   batchSize,
		aiConcurrency: concurrency,
	}
}

// Options carries per-run settings.
type Options struct {
	// AICorrection defers blank-answer MCQ rows to the completion service
	// instead of failing them, and runs the correction pass after the row
	// loop.
	AICorrection bool
}

// Run processes workbook bytes under the given session id. It always drives
// the session to a terminal state, even under partial failure or mid-run
// cancellation, and never returns an error: failures are recorded on the
// session.
func (s *Service) Run(ctx context.Context, sessionID string, workbook []byte, opts Options) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldImportID:  sessionID,
		logger.FieldComponent: "importer",
	})

	start := time.Now()
	stats := &domain.ImportStats{}

	s.sessions.Apply(sessionID, session.Update{
		Progress: 0,
		Message:  "validating workbook",
		Phase:    domain.PhaseValidating,
	})

	wb, err := OpenWorkbook(workbook)
	if err != nil {
		logger.CtxError(ctx, "Workbook rejected: %v", err)
		stats.AddError(err.Error())
		s.sessions.Apply(sessionID, session.Update{
			Progress: 100,
			Message:  "workbook could not be read",
			Log:      err.Error(),
			Phase:    domain.PhaseComplete,
			Stats:    stats,
		})
		return
	}

	for _, name := range wb.Unknown {
		s.sessions.Apply(sessionID, session.Update{
			Log: fmt.Sprintf("sheet %q not recognized, ignored", name),
		})
	}
	for _, kind := range SheetOrder {
		if _, ok := wb.Sheets[kind]; !ok {
			s.sessions.Apply(sessionID, session.Update{
				Log: fmt.Sprintf("no %s sheet in workbook, skipped", kind),
			})
		}
	}

	stats.Total = wb.TotalRows()
	logger.CtxInfo(ctx, "Workbook validated: sheets=%d, rows=%d", len(wb.Sheets), stats.Total)

	s.sessions.Apply(sessionID, session.Update{
		Progress: 0,
		Message:  "importing questions",
		Phase:    domain.PhaseImporting,
		Stats:    stats,
	})

	resolver := NewResolver(s.taxonomy, s.cases, stats)
	var pending []pendingCorrection
	processed := 0
	cancelled := false

sheets:
	for _, kind := range SheetOrder {
		sheet, ok := wb.Sheets[kind]
		if !ok {
			continue
		}
		// sheet-boundary checkpoint
		if s.sessions.IsCancelled(sessionID) {
			cancelled = true
			break
		}

		for _, irow := range sheet.Rows {
			// row-cadence checkpoint: cancellation is only observed here and
			// at sheet boundaries, never mid-row
			if processed%yieldInterval == 0 {
				if s.sessions.IsCancelled(sessionID) {
					cancelled = true
					break sheets
				}
				runtime.Gosched()
			}

			q, rowErr := s.processRow(ctx, resolver, sheet, irow, stats, opts)
			processed++
			if rowErr != nil {
				stats.Failed++
				stats.AddError(rowErr.Error())
				logger.With(logger.Fields{
					logger.FieldSheet: string(sheet.Kind),
					logger.FieldRow:   irow.Index,
				}).Warn(ctx, "Row failed: %v", rowErr)
				s.sessions.Apply(sessionID, session.Update{
					Progress: percent(processed, stats.Total),
					Message:  fmt.Sprintf("importing %s", sheet.Kind),
					Log:      rowErr.Error(),
					Stats:    stats,
				})
				continue
			}

			stats.Imported++
			if opts.AICorrection && q != nil && len(q.Options) > 0 && len(q.CorrectAnswers) == 0 {
				pending = append(pending, pendingCorrection{question: q})
			}
			s.sessions.Apply(sessionID, session.Update{
				Progress: percent(processed, stats.Total),
				Message:  fmt.Sprintf("importing %s", sheet.Kind),
				Stats:    stats,
			})
		}
	}

	if cancelled {
		logger.CtxInfo(ctx, "Import cancelled after %d rows", processed)
		s.sessions.Apply(sessionID, session.Update{
			Progress: percent(processed, stats.Total),
			Log:      fmt.Sprintf("import stopped after cancellation (%d rows processed)", processed),
			Phase:    domain.PhaseComplete,
			Stats:    stats,
		})
		return
	}

	if len(pending) > 0 {
		s.runCorrectionPass(ctx, sessionID, pending, stats)
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      stats.Imported,
	}).Info(ctx, "Import completed: total=%d, imported=%d, failed=%d", stats.Total, stats.Imported, stats.Failed)

	s.sessions.Apply(sessionID, session.Update{
		Progress: 100,
		Message:  fmt.Sprintf("import complete: %d imported, %d failed", stats.Imported, stats.Failed),
		Phase:    domain.PhaseComplete,
		Stats:    stats,
	})
}

type pendingCorrection struct {
	question *domain.Question
}

// processRow runs the per-row pipeline: required-field checks, typed
// transformation, taxonomy resolution, clinical case linkage, media
// rehosting, and persistence. Any failure aborts this row only.
func (s *Service) processRow(ctx context.Context, resolver *Resolver, sheet *Sheet, irow IndexedRow, stats *domain.ImportStats, opts Options) (*domain.Question, error) {
	row := irow.Row

	specialtyName := row.Get(ColSpecialty)
	if specialtyName == "" {
		return nil, rowErrorf(sheet.Kind, irow.Index, "missing specialty name")
	}
	lectureTitle := row.Get(ColLecture)
	if lectureTitle == "" {
		return nil, rowErrorf(sheet.Kind, irow.Index, "missing lecture title")
	}

	q, rowErr := TransformRow(sheet.Kind, irow.Index, row, opts.AICorrection)
	if rowErr != nil {
		return nil, rowErr
	}

	var level *domain.Level
	var subPeriod *domain.SubPeriod
	if name, ok := NormalizeLevel(row.Get(ColLevel)); ok {
		var err error
		level, err = resolver.ResolveLevel(ctx, name)
		if err != nil {
			return nil, err
		}
		if order, spName, ok := NormalizeSemester(row.Get(ColSemester)); ok {
			subPeriod, err = resolver.ResolveSubPeriod(ctx, level, order, spName)
			if err != nil {
				return nil, err
			}
		}
	}

	specialty, err := resolver.ResolveSpecialty(ctx, specialtyName, level, subPeriod)
	if err != nil {
		return nil, err
	}

	lecture, err := resolver.ResolveLecture(ctx, specialty, lectureTitle, row.Get(ColReminder))
	if err != nil {
		return nil, err
	}
	q.LectureID = lecture.ID

	if q.Kind.IsClinical() {
		caseCell := row.Get(ColCaseNumber)
		if caseCell == "" {
			return nil, rowErrorf(sheet.Kind, irow.Index, "missing case number")
		}
		caseNumber, convErr := strconv.Atoi(caseCell)
		if convErr != nil {
			return nil, rowErrorf(sheet.Kind, irow.Index, "bad case number %q", caseCell)
		}
		clinicalCase, err := resolver.ResolveCase(ctx, lecture, caseNumber, row.Get(ColCaseText))
		if err != nil {
			return nil, err
		}
		q.CaseID = clinicalCase.ID
		q.CaseNumber = caseNumber
	}

	if q.MediaURL != "" {
		if s.rehoster != nil {
			q.MediaURL = s.rehoster.Rehost(ctx, q.MediaURL)
		}
		stats.QuestionsWithImages++
	}

	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("sheet %s row %d: persist question: %w", sheet.Kind, irow.Index, err)
	}
	return q, nil
}

// runCorrectionPass sends blank-answer MCQs through the completion service
// and fills in the returned answers. Correction failures are session-log
// events only; the rows already imported successfully.
func (s *Service) runCorrectionPass(ctx context.Context, sessionID string, pending []pendingCorrection, stats *domain.ImportStats) {
	if s.corrector == nil {
		s.sessions.Apply(sessionID, session.Update{
			Progress: percent(stats.Total, stats.Total),
			Log:      fmt.Sprintf("AI correction unavailable, %d questions left without answers", len(pending)),
			Stats:    stats,
		})
		return
	}

	s.sessions.Apply(sessionID, session.Update{
		Progress: percent(stats.Total, stats.Total),
		Message:  fmt.Sprintf("correcting %d questions", len(pending)),
		Log:      fmt.Sprintf("running AI correction for %d questions", len(pending)),
		Stats:    stats,
	})

	items := make([]ai.BatchItem, 0, len(pending))
	byID := make(map[string]*domain.Question, len(pending))
	for _, p := range pending {
		items = append(items, ai.BatchItem{
			ID:           p.question.ID,
			QuestionText: p.question.Text,
			Options:      p.question.Options,
		})
		byID[p.question.ID] = p.question
	}

	results := s.corrector.Run(ctx, items, s.aiBatchSize, s.aiConcurrency, prompts.CorrectionSystemPrompt)

	corrected := 0
	for id, result := range results {
		q := byID[id]
		if q == nil {
			continue
		}
		if result.Status != ai.StatusOK {
			s.sessions.Apply(sessionID, session.Update{
				Progress: percent(stats.Total, stats.Total),
				Log:      fmt.Sprintf("AI correction failed for question %s: %s", id, result.Error),
			})
			continue
		}
		q.CorrectAnswers = result.CorrectAnswers
		if result.GlobalExplanation != "" && q.Explanation == "" {
			q.Explanation = result.GlobalExplanation
		}
		if err := s.questions.Update(ctx, q); err != nil {
			logger.CtxWarn(ctx, "Failed to save corrected question %s: %v", id, err)
			continue
		}
		corrected++
	}

	s.sessions.Apply(sessionID, session.Update{
		Progress: percent(stats.Total, stats.Total),
		Log:      fmt.Sprintf("AI correction finished: %d/%d questions corrected", corrected, len(pending)),
		Stats:    stats,
	})
}

func percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return processed * 100 / total
}
