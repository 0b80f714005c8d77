package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sami/medbank/internal/domain"
	"github.com/sami/medbank/internal/repository"
	"gorm.io/gorm"
)

// Resolver finds or creates taxonomy entities with per-run caching so a run
// creates each (key-identical) entity at most once. A run has exactly one
// writer, so the caches need no locking.
type Resolver struct {
	taxonomy *repository.TaxonomyRepository
	cases    *repository.ClinicalCaseRepository

	specialties map[string]*domain.Specialty    // by name
	lectures    map[string]*domain.Lecture      // by specialtyID + "\x00" + title
	levels      map[string]*domain.Level        // by canonical name
	subPeriods  map[string]*domain.SubPeriod    // by levelID + "\x00" + order
	caseCache   map[string]*domain.ClinicalCase // by lectureID + "\x00" + number

	stats *domain.ImportStats
}

// NewResolver creates a resolver with fresh caches for one import run.
func NewResolver(taxonomy *repository.TaxonomyRepository, cases *repository.ClinicalCaseRepository, stats *domain.ImportStats) *Resolver {
	return &Resolver{
		taxonomy:    taxonomy,
		cases:       cases,
		specialties: make(map[string]*domain.Specialty),
		lectures:    make(map[string]*domain.Lecture),
		levels:      make(map[string]*domain.Level),
		subPeriods:  make(map[string]*domain.SubPeriod),
		caseCache:   make(map[string]*domain.ClinicalCase),
		stats:       stats,
	}
}

// ResolveLevel finds or creates a level by canonical name.
func (r *Resolver) ResolveLevel(ctx context.Context, name string) (*domain.Level, error) {
	if lv, ok := r.levels[name]; ok {
		return lv, nil
	}

	lv, err := r.taxonomy.FindLevelByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lv = &domain.Level{Name: name}
		if err := r.taxonomy.CreateLevel(ctx, lv); err != nil {
			return nil, fmt.Errorf("create level %q: %w", name, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("find level %q: %w", name, err)
	}

	r.levels[name] = lv
	return lv, nil
}

// ResolveSubPeriod finds or creates a sub-period by (level, order).
func (r *Resolver) ResolveSubPeriod(ctx context.Context, level *domain.Level, order int, name string) (*domain.SubPeriod, error) {
	key := level.ID + "\x00" + strconv.Itoa(order)
	if sp, ok := r.subPeriods[key]; ok {
		return sp, nil
	}

	sp, err := r.taxonomy.FindSubPeriod(ctx, level.ID, order)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sp = &domain.SubPeriod{LevelID: level.ID, Order: order, Name: name}
		if err := r.taxonomy.CreateSubPeriod(ctx, sp); err != nil {
			return nil, fmt.Errorf("create sub-period %s/%d: %w", level.Name, order, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("find sub-period %s/%d: %w", level.Name, order, err)
	}

	r.subPeriods[key] = sp
	return sp, nil
}

// ResolveSpecialty finds or creates a specialty by name. When the specialty
// lacks a level or sub-period link and one is now known, the link is
// backfilled and saved.
func (r *Resolver) ResolveSpecialty(ctx context.Context, name string, level *domain.Level, subPeriod *domain.SubPeriod) (*domain.Specialty, error) {
	sp, ok := r.specialties[name]
	if !ok {
		var err error
		sp, err = r.taxonomy.FindSpecialtyByName(ctx, name)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sp = &domain.Specialty{Name: name}
			if level != nil {
				sp.LevelID = level.ID
			}
			if subPeriod != nil {
				sp.SubPeriodID = subPeriod.ID
			}
			if err := r.taxonomy.CreateSpecialty(ctx, sp); err != nil {
				return nil, fmt.Errorf("create specialty %q: %w", name, err)
			}
			r.stats.CreatedSpecialties++
			r.specialties[name] = sp
			return sp, nil
		} else if err != nil {
			return nil, fmt.Errorf("find specialty %q: %w", name, err)
		}
		r.specialties[name] = sp
	}

	// backfill newly learned level/sub-period links
	changed := false
	if sp.LevelID == "" && level != nil {
		sp.LevelID = level.ID
		changed = true
	}
	if sp.SubPeriodID == "" && subPeriod != nil {
		sp.SubPeriodID = subPeriod.ID
		changed = true
	}
	if changed {
		if err := r.taxonomy.UpdateSpecialty(ctx, sp); err != nil {
			return nil, fmt.Errorf("backfill specialty %q: %w", name, err)
		}
	}

	return sp, nil
}

// ResolveLecture finds or creates a lecture scoped to (specialty, title).
func (r *Resolver) ResolveLecture(ctx context.Context, specialty *domain.Specialty, title, reminder string) (*domain.Lecture, error) {
	key := specialty.ID + "\x00" + title
	if l, ok := r.lectures[key]; ok {
		return l, nil
	}

	l, err := r.taxonomy.FindLecture(ctx, specialty.ID, title)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		l = &domain.Lecture{SpecialtyID: specialty.ID, Title: title, Reminder: reminder}
		if err := r.taxonomy.CreateLecture(ctx, l); err != nil {
			return nil, fmt.Errorf("create lecture %q: %w", title, err)
		}
		r.stats.CreatedLectures++
	} else if err != nil {
		return nil, fmt.Errorf("find lecture %q: %w", title, err)
	}

	r.lectures[key] = l
	return l, nil
}

// ResolveCase finds or creates a clinical case scoped to (lecture, number).
// The first row carrying a given number establishes the case text; later rows
// with the same number only attach questions.
func (r *Resolver) ResolveCase(ctx context.Context, lecture *domain.Lecture, number int, text string) (*domain.ClinicalCase, error) {
	key := lecture.ID + "\x00" + strconv.Itoa(number)
	if c, ok := r.caseCache[key]; ok {
		return c, nil
	}

	c, err := r.cases.Find(ctx, lecture.ID, number)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = &domain.ClinicalCase{LectureID: lecture.ID, Number: number, Text: text}
		if err := r.cases.Create(ctx, c); err != nil {
			return nil, fmt.Errorf("create clinical case %d: %w", number, err)
		}
		r.stats.CreatedCases++
	} else if err != nil {
		return nil, fmt.Errorf("find clinical case %d: %w", number, err)
	}

	r.caseCache[key] = c
	return c, nil
}
