package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sami/medbank/internal/domain"
)

// CanonicalRow maps canonical column keys to trimmed cell values. One
// CanonicalRow exists per input spreadsheet row and is discarded after
// transformation.
type CanonicalRow map[string]string

// Get returns the trimmed value for a canonical column key.
func (r CanonicalRow) Get(key string) string {
	return strings.TrimSpace(r[key])
}

// RowError describes a recoverable row-validation failure. Rows that fail
// are counted and logged; the sheet loop always continues.
type RowError struct {
	Sheet  SheetKind
	Row    int // 1-based spreadsheet row index
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("sheet %s row %d: %s", e.Sheet, e.Row, e.Reason)
}

func rowErrorf(sheet SheetKind, row int, format string, args ...interface{}) *RowError {
	return &RowError{Sheet: sheet, Row: row, Reason: fmt.Sprintf(format, args...)}
}

// imageURLPattern matches an inline URL ending in a common raster or vector
// image extension.
var imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s"']+\.(?:png|jpe?g|gif|webp|svg|bmp)`)

// ExtractImageURL finds an inline image URL in the question text and returns
// the text with the URL stripped plus the URL itself. When the text carries
// none, the explicit media column value (possibly empty) is used.
func ExtractImageURL(text, mediaColumn string) (cleaned string, url string) {
	if m := imageURLPattern.FindString(text); m != "" {
		cleaned = strings.Join(strings.Fields(strings.Replace(text, m, " ", 1)), " ")
		return cleaned, m
	}
	return strings.TrimSpace(text), strings.TrimSpace(mediaColumn)
}

// levelPattern captures a two-to-five-letter tier prefix and a single digit,
// e.g. "pcem 1" or "dcem3".
var levelPattern = regexp.MustCompile(`^([a-z]{2,5})\s*([0-9])$`)

// NormalizeLevel canonicalizes a raw level cell ("PCEM 1", "pcém1") into the
// prefix+digit form "PCEM1". Returns false when the cell does not look like a
// level at all.
func NormalizeLevel(raw string) (string, bool) {
	m := levelPattern.FindStringSubmatch(Normalize(raw))
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]) + m[2], true
}

var semesterPattern = regexp.MustCompile(`^(?:s|semestre|sem)\s*([0-9])$`)

// NormalizeSemester canonicalizes a raw sub-period cell ("S1", "Semestre 2")
// into its order and display name ("S1"). Returns ok=false when unparsable.
func NormalizeSemester(raw string) (order int, name string, ok bool) {
	m := semesterPattern.FindStringSubmatch(Normalize(raw))
	if m == nil {
		return 0, "", false
	}
	order, err := strconv.Atoi(m[1])
	if err != nil || order == 0 {
		return 0, "", false
	}
	return order, "S" + m[1], true
}

// answerSplitter separates answer letters on comma, semicolon, or whitespace.
var answerSplitter = regexp.MustCompile(`[,;\s]+`)

// ParseAnswerLetters converts an answer cell such as "A, C" into zero-based
// option indexes, validated against the parsed option count.
func ParseAnswerLetters(cell string, optionCount int) ([]int, error) {
	parts := answerSplitter.Split(strings.TrimSpace(cell), -1)
	var indexes []int
	for _, part := range parts {
		if part == "" {
			continue
		}
		letter := strings.ToUpper(part)
		if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'E' {
			return nil, fmt.Errorf("invalid answer letter %q", part)
		}
		idx := int(letter[0] - 'A')
		if idx >= optionCount {
			return nil, fmt.Errorf("answer letter %q has no matching option", part)
		}
		indexes = append(indexes, idx)
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("empty answer cell")
	}
	return indexes, nil
}

// ParseOptions collects the option slots A-E in order, stopping the list at
// the trailing empty slots while keeping interior blanks positional.
func ParseOptions(row CanonicalRow) []string {
	options := make([]string, 0, len(OptionColumns))
	for _, col := range OptionColumns {
		options = append(options, row.Get(col))
	}
	// trim trailing empties so a 3-option question yields 3 options
	for len(options) > 0 && options[len(options)-1] == "" {
		options = options[:len(options)-1]
	}
	return options
}

// MergeExplanations combines the global explanation with per-option
// explanations into one structured block, or returns "" when both are absent.
func MergeExplanations(global string, row CanonicalRow) string {
	var parts []string
	if g := strings.TrimSpace(global); g != "" {
		parts = append(parts, g)
	}
	for i, col := range ExplanationColumns {
		if v := row.Get(col); v != "" {
			parts = append(parts, fmt.Sprintf("%c) %s", 'A'+i, v))
		}
	}
	return strings.Join(parts, "\n")
}

// questionKindFor maps a sheet kind to the question kind it produces.
func questionKindFor(sheet SheetKind) domain.QuestionKind {
	switch sheet {
	case SheetQCM:
		return domain.KindMCQ
	case SheetQROC:
		return domain.KindQROC
	case SheetCasQCM:
		return domain.KindClinicMCQ
	default:
		return domain.KindClinicQROC
	}
}

// TransformRow builds a typed question record from a canonical row. It
// validates per sheet kind and returns a *RowError on any recoverable
// validation failure. Entity linkage (lecture, clinical case) is filled in by
// the caller; media URLs are returned raw for the rehosting hook.
//
// An MCQ row with a blank answer cell fails validation unless
// allowBlankAnswers is set, in which case it comes back with empty
// CorrectAnswers for the AI correction pass to fill in.
func TransformRow(sheet SheetKind, rowIdx int, row CanonicalRow, allowBlankAnswers bool) (*domain.Question, *RowError) {
	text := row.Get(ColQuestion)
	if text == "" {
		return nil, rowErrorf(sheet, rowIdx, "missing question text")
	}

	cleaned, mediaURL := ExtractImageURL(text, row.Get(ColMedia))

	q := &domain.Question{
		Kind:        questionKindFor(sheet),
		Text:        cleaned,
		SourceLabel: row.Get(ColSource),
		MediaURL:    mediaURL,
	}

	if n := row.Get(ColNumber); n != "" {
		if num, err := strconv.Atoi(n); err == nil {
			q.Number = num
		}
	}

	switch q.Kind {
	case domain.KindMCQ, domain.KindClinicMCQ:
		options := ParseOptions(row)
		if len(options) == 0 {
			return nil, rowErrorf(sheet, rowIdx, "no options provided")
		}
		q.Options = options

		answerCell := row.Get(ColAnswer)
		if answerCell == "" {
			if !allowBlankAnswers {
				return nil, rowErrorf(sheet, rowIdx, "empty correct answers")
			}
		} else {
			answers, err := ParseAnswerLetters(answerCell, len(options))
			if err != nil {
				return nil, rowErrorf(sheet, rowIdx, "bad answer cell: %v", err)
			}
			q.CorrectAnswers = answers
		}

	case domain.KindQROC, domain.KindClinicQROC:
		answer := row.Get(ColAnswer)
		if answer == "" {
			return nil, rowErrorf(sheet, rowIdx, "missing reference answer")
		}
		q.ReferenceAnswer = answer
	}

	q.Explanation = MergeExplanations(row.Get(ColExplanation), row)

	return q, nil
}
