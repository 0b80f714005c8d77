// Package importer implements the bulk workbook import pipeline: sheet and
// header canonicalization, row transformation into typed questions, cached
// entity resolution, and the cooperative import run loop.
package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SheetKind is the canonical identity of a workbook sheet.
type SheetKind string

const (
	SheetQCM      SheetKind = "qcm"
	SheetQROC     SheetKind = "qroc"
	SheetCasQCM   SheetKind = "cas_qcm"
	SheetCasQROC  SheetKind = "cas_qroc"
)

// SheetOrder is the fixed processing order for recognized sheet kinds.
var SheetOrder = []SheetKind{SheetQCM, SheetQROC, SheetCasQCM, SheetCasQROC}

// Canonical column keys produced by header resolution.
const (
	ColSpecialty   = "specialite"
	ColLecture     = "cours"
	ColNumber      = "numero"
	ColSource      = "source"
	ColQuestion    = "question"
	ColCaseText    = "texte_cas"
	ColCaseNumber  = "numero_cas"
	ColOptionA     = "option_a"
	ColOptionB     = "option_b"
	ColOptionC     = "option_c"
	ColOptionD     = "option_d"
	ColOptionE     = "option_e"
	ColAnswer      = "reponse"
	ColExplanation = "explication"
	ColExplA       = "explication_a"
	ColExplB       = "explication_b"
	ColExplC       = "explication_c"
	ColExplD       = "explication_d"
	ColExplE       = "explication_e"
	ColLevel       = "niveau"
	ColSemester    = "semestre"
	ColReminder    = "rappel"
	ColMedia       = "image"
)

// OptionColumns lists the five option slots in letter order.
var OptionColumns = []string{ColOptionA, ColOptionB, ColOptionC, ColOptionD, ColOptionE}

// ExplanationColumns lists the per-option explanation slots in letter order.
var ExplanationColumns = []string{ColExplA, ColExplB, ColExplC, ColExplD, ColExplE}

// diacriticStripper removes combining marks after NFD decomposition.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowers, strips diacritics, replaces punctuation with spaces, and
// collapses whitespace. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	lowered := strings.ToLower(raw)

	stripped, _, err := transform.String(diacriticStripper, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// headerAliases maps normalized header spellings to canonical column keys.
// Tables are declarative so spelling variants stay independently testable.
var headerAliases = map[string]string{
	"specialite":         ColSpecialty,
	"matiere":            ColSpecialty,
	"specialty":          ColSpecialty,
	"cours":              ColLecture,
	"titre du cours":     ColLecture,
	"chapitre":           ColLecture,
	"lecture":            ColLecture,
	"numero":             ColNumber,
	"num":                ColNumber,
	"n":                  ColNumber,
	"question n":         ColNumber,
	"numero question":    ColNumber,
	"source":             ColSource,
	"session":            ColSource,
	"question":           ColQuestion,
	"enonce":             ColQuestion,
	"texte question":     ColQuestion,
	"texte de la question": ColQuestion,
	"texte du cas":       ColCaseText,
	"enonce du cas":      ColCaseText,
	"cas clinique":       ColCaseText,
	"texte cas":          ColCaseText,
	"numero du cas":      ColCaseNumber,
	"cas n":              ColCaseNumber,
	"n cas":              ColCaseNumber,
	"numero cas":         ColCaseNumber,
	"option a":           ColOptionA,
	"proposition a":      ColOptionA,
	"a":                  ColOptionA,
	"option b":           ColOptionB,
	"proposition b":      ColOptionB,
	"b":                  ColOptionB,
	"option c":           ColOptionC,
	"proposition c":      ColOptionC,
	"c":                  ColOptionC,
	"option d":           ColOptionD,
	"proposition d":      ColOptionD,
	"d":                  ColOptionD,
	"option e":           ColOptionE,
	"proposition e":      ColOptionE,
	"e":                  ColOptionE,
	"reponse":            ColAnswer,
	"reponses":           ColAnswer,
	"bonne reponse":      ColAnswer,
	"reponse correcte":   ColAnswer,
	"correction":         ColAnswer,
	"explication":        ColExplanation,
	"justification":      ColExplanation,
	"commentaire":        ColExplanation,
	"explication globale": ColExplanation,
	"explication a":      ColExplA,
	"explication b":      ColExplB,
	"explication c":      ColExplC,
	"explication d":      ColExplD,
	"explication e":      ColExplE,
	"niveau":             ColLevel,
	"level":              ColLevel,
	"annee":              ColLevel,
	"semestre":           ColSemester,
	"periode":            ColSemester,
	"semester":           ColSemester,
	"rappel":             ColReminder,
	"rappel du cours":    ColReminder,
	"rappel cours":       ColReminder,
	"course reminder":    ColReminder,
	"image":              ColMedia,
	"media":              ColMedia,
	"illustration":       ColMedia,
	"url image":          ColMedia,
	"image url":          ColMedia,
}

// sheetAliases maps normalized sheet names to canonical sheet kinds.
var sheetAliases = map[string]SheetKind{
	"qcm":               SheetQCM,
	"qcms":              SheetQCM,
	"qroc":              SheetQROC,
	"qrocs":             SheetQROC,
	"croq":              SheetQROC,
	"cas qcm":           SheetCasQCM,
	"qcm cas":           SheetCasQCM,
	"cas clinique qcm":  SheetCasQCM,
	"cas cliniques qcm": SheetCasQCM,
	"qcm cas clinique":  SheetCasQCM,
	"cas qroc":           SheetCasQROC,
	"qroc cas":           SheetCasQROC,
	"cas clinique qroc":  SheetCasQROC,
	"cas cliniques qroc": SheetCasQROC,
	"qroc cas clinique":  SheetCasQROC,
}

// CanonicalHeader resolves a raw header cell to its canonical column key.
func CanonicalHeader(raw string) (string, bool) {
	key, ok := headerAliases[Normalize(raw)]
	return key, ok
}

// CanonicalSheet resolves a raw sheet name to its canonical kind. Hyphens,
// underscores, and accents are absorbed by Normalize.
func CanonicalSheet(raw string) (SheetKind, bool) {
	kind, ok := sheetAliases[Normalize(raw)]
	return kind, ok
}
