package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/sami/medbank/internal/config"
	"github.com/sami/medbank/internal/domain"
	"github.com/sami/medbank/internal/repository"
	"github.com/sami/medbank/internal/session"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type testSheet struct {
	name string
	rows [][]interface{}
}

// buildWorkbook produces in-memory xlsx bytes from literal sheet data.
func buildWorkbook(t *testing.T, sheets []testSheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				t.Fatalf("failed to rename sheet: %v", err)
			}
		} else {
			if _, err := f.NewSheet(sheet.name); err != nil {
				t.Fatalf("failed to add sheet: %v", err)
			}
		}
		for r, row := range sheet.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("bad coordinates: %v", err)
			}
			if err := f.SetSheetRow(sheet.name, cell, &row); err != nil {
				t.Fatalf("failed to write row: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to serialize workbook: %v", err)
	}
	return buf.Bytes()
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        ":memory:",
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("failed to init database: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *session.Store, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	sessions := session.NewStore(session.Options{})
	t.Cleanup(sessions.Stop)

	svc := NewService(
		repository.NewTaxonomyRepository(db),
		repository.NewClinicalCaseRepository(db),
		repository.NewQuestionRepository(db),
		sessions,
		nil,
		nil,
		nil,
	)
	return svc, sessions, db
}

func qcmHeader() []interface{} {
	return []interface{}{"Spécialité", "Cours", "Question", "Option A", "Option B", "Option C", "Réponse"}
}

func TestRunImportsQuestions(t *testing.T) {
	svc, sessions, db := newTestService(t)

	data := buildWorkbook(t, []testSheet{{
		name: "QCM",
		rows: [][]interface{}{
			qcmHeader(),
			{"Cardiologie", "Insuffisance cardiaque", "Question une ?", "oui", "non", "parfois", "A"},
			{"Cardiologie", "Insuffisance cardiaque", "Question deux ?", "oui", "non", "parfois", "B, C"},
			{"Cardiologie", "Insuffisance cardiaque", "Question trois ?", "oui", "non", "", "A"},
		},
	}})

	id := sessions.Create()
	svc.Run(context.Background(), id, data, Options{})

	snap, ok := sessions.Get(id)
	if !ok {
		t.Fatal("session disappeared")
	}
	if snap.Phase != domain.PhaseComplete || snap.Progress != 100 {
		t.Errorf("terminal state = (%q, %d)", snap.Phase, snap.Progress)
	}
	if snap.Stats.Total != 3 || snap.Stats.Imported != 3 || snap.Stats.Failed != 0 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if snap.Stats.CreatedSpecialties != 1 || snap.Stats.CreatedLectures != 1 {
		t.Errorf("entities must be created once: %+v", snap.Stats)
	}

	var count int64
	db.Model(&domain.Question{}).Count(&count)
	if count != 3 {
		t.Errorf("persisted %d questions, want 3", count)
	}

	var questions []domain.Question
	db.Order("number asc").Find(&questions)
	for _, q := range questions {
		if q.LectureID == "" {
			t.Errorf("question %s has no lecture", q.ID)
		}
		if q.Kind != domain.KindMCQ {
			t.Errorf("question kind = %q", q.Kind)
		}
	}
}

func TestRunRowFailureContinues(t *testing.T) {
	svc, sessions, db := newTestService(t)

	data := buildWorkbook(t, []testSheet{{
		name: "QCM",
		rows: [][]interface{}{
			qcmHeader(),
			{"", "Cours X", "Question sans spécialité ?", "oui", "non", "", "A"},
			{"Pneumologie", "Asthme", "Question valide ?", "oui", "non", "", "B"},
		},
	}})

	id := sessions.Create()
	svc.Run(context.Background(), id, data, Options{})

	snap, _ := sessions.Get(id)
	if snap.Stats.Imported != 1 || snap.Stats.Failed != 1 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	if len(snap.Stats.Errors) != 1 {
		t.Fatalf("errors = %v", snap.Stats.Errors)
	}
	// row 2 is the first data row
	if !strings.Contains(snap.Stats.Errors[0], "row 2") {
		t.Errorf("error should name the row: %q", snap.Stats.Errors[0])
	}

	var count int64
	db.Model(&domain.Question{}).Count(&count)
	if count != 1 {
		t.Errorf("persisted %d questions, want 1", count)
	}
}

func TestRunClinicalCases(t *testing.T) {
	svc, sessions, db := newTestService(t)

	data := buildWorkbook(t, []testSheet{{
		name: "Cas QCM",
		rows: [][]interface{}{
			{"Spécialité", "Cours", "Numéro du cas", "Texte du cas", "Question", "Option A", "Option B", "Réponse"},
			{"Cardiologie", "ECG", "1", "Patient de 60 ans admis aux urgences.", "Premier geste ?", "ECG", "Scanner", "A"},
			{"Cardiologie", "ECG", "1", "", "Second geste ?", "Troponine", "Echo", "B"},
		},
	}})

	id := sessions.Create()
	svc.Run(context.Background(), id, data, Options{})

	snap, _ := sessions.Get(id)
	if snap.Stats.Imported != 2 || snap.Stats.CreatedCases != 1 {
		t.Fatalf("stats = %+v", snap.Stats)
	}

	var cases []domain.ClinicalCase
	db.Find(&cases)
	if len(cases) != 1 {
		t.Fatalf("persisted %d cases, want 1", len(cases))
	}
	if cases[0].Text != "Patient de 60 ans admis aux urgences." {
		t.Errorf("case text = %q", cases[0].Text)
	}

	var questions []domain.Question
	db.Find(&questions)
	for _, q := range questions {
		if q.CaseID != cases[0].ID || q.CaseNumber != 1 {
			t.Errorf("question %s not linked to the case: case_id=%q number=%d", q.ID, q.CaseID, q.CaseNumber)
		}
		if q.Kind != domain.KindClinicMCQ {
			t.Errorf("question kind = %q", q.Kind)
		}
	}
}

func TestRunClinicalCaseNumberRequired(t *testing.T) {
	svc, sessions, _ := newTestService(t)

	data := buildWorkbook(t, []testSheet{{
		name: "Cas QCM",
		rows: [][]interface{}{
			{"Spécialité", "Cours", "Texte du cas", "Question", "Option A", "Réponse"},
			{"Cardiologie", "ECG", "Texte.", "Question ?", "oui", "A"},
		},
	}})

	id := sessions.Create()
	svc.Run(context.Background(), id, data, Options{})

	snap, _ := sessions.Get(id)
	if snap.Stats.Failed != 1 || snap.Stats.Imported != 0 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	if !strings.Contains(snap.Stats.Errors[0], "missing case number") {
		t.Errorf("unexpected error: %q", snap.Stats.Errors[0])
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	svc, sessions, db := newTestService(t)

	rows := [][]interface{}{qcmHeader()}
	for i := 0; i < 10; i++ {
		rows = append(rows, []interface{}{"Cardiologie", "Cours", "Question ?", "oui", "non", "", "A"})
	}
	data := buildWorkbook(t, []testSheet{{name: "QCM", rows: rows}})

	id := sessions.Create()
	sessions.Cancel(id)
	svc.Run(context.Background(), id, data, Options{})

	snap, _ := sessions.Get(id)
	if !snap.Cancelled {
		t.Fatal("session must stay cancelled")
	}
	if snap.Phase != domain.PhaseComplete {
		t.Errorf("after the cancelled run exits, phase = %q, want %q", snap.Phase, domain.PhaseComplete)
	}
	if snap.Stats.Imported != 0 {
		t.Errorf("cancelled run imported %d rows", snap.Stats.Imported)
	}

	var count int64
	db.Model(&domain.Question{}).Count(&count)
	if count != 0 {
		t.Errorf("cancelled run persisted %d questions", count)
	}
}

func TestRunCancelMidRun(t *testing.T) {
	svc, sessions, db := newTestService(t)

	rows := [][]interface{}{qcmHeader()}
	for i := 0; i < 60; i++ {
		rows = append(rows, []interface{}{"Cardiologie", "Cours", "Question ?", "oui", "non", "", "A"})
	}
	data := buildWorkbook(t, []testSheet{{name: "QCM", rows: rows}})

	id := sessions.Create()

	// cancel from inside the run, deterministically, after the 30th persisted
	// question; the row loop checks the flag every 25 rows, so processing must
	// stop at the next checkpoint (row 50)
	created := 0
	err := db.Callback().Create().After("gorm:create").Register("cancel_mid_import", func(tx *gorm.DB) {
		if tx.Statement.Table != "questions" {
			return
		}
		created++
		if created == 30 {
			sessions.Cancel(id)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	svc.Run(context.Background(), id, data, Options{})

	snap, _ := sessions.Get(id)
	if !snap.Cancelled || snap.Phase != domain.PhaseComplete {
		t.Fatalf("terminal state = (cancelled=%v, phase=%q), want (true, %q)",
			snap.Cancelled, snap.Phase, domain.PhaseComplete)
	}
	if snap.Stats.Imported != 50 {
		t.Errorf("imported = %d, want processing stopped at the row-50 checkpoint", snap.Stats.Imported)
	}

	var count int64
	db.Model(&domain.Question{}).Count(&count)
	if count != int64(snap.Stats.Imported) {
		t.Errorf("persisted %d questions but stats report %d", count, snap.Stats.Imported)
	}
}

func TestRunUnreadableWorkbook(t *testing.T) {
	svc, sessions, _ := newTestService(t)

	id := sessions.Create()
	svc.Run(context.Background(), id, []byte("definitely not a spreadsheet"), Options{})

	snap, _ := sessions.Get(id)
	if snap.Phase != domain.PhaseComplete {
		t.Errorf("rejected workbook must still terminate the session, phase = %q", snap.Phase)
	}
	if len(snap.Stats.Errors) == 0 {
		t.Error("expected an error entry for the rejected workbook")
	}
}

func TestRunBlankAnswersNeedOptIn(t *testing.T) {
	svc, sessions, _ := newTestService(t)

	data := buildWorkbook(t, []testSheet{{
		name: "QCM",
		rows: [][]interface{}{
			qcmHeader(),
			{"Cardiologie", "Cours", "Question sans réponse ?", "oui", "non", "", ""},
		},
	}})

	// without the AI pass a blank answer fails the row
	id := sessions.Create()
	svc.Run(context.Background(), id, data, Options{})
	snap, _ := sessions.Get(id)
	if snap.Stats.Failed != 1 {
		t.Fatalf("stats = %+v", snap.Stats)
	}

	// with the AI pass (but no corrector wired) the row imports and the
	// session records that correction was unavailable
	id = sessions.Create()
	svc.Run(context.Background(), id, data, Options{AICorrection: true})
	snap, _ = sessions.Get(id)
	if snap.Stats.Imported != 1 || snap.Stats.Failed != 0 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	found := false
	for _, line := range snap.Logs {
		if strings.Contains(line, "AI correction unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unavailability log line, got %v", snap.Logs)
	}
}

func TestOpenWorkbookCanonicalization(t *testing.T) {
	data := buildWorkbook(t, []testSheet{
		{
			name: "QCM",
			rows: [][]interface{}{
				{"Spécialité", "Cours", "Énoncé", "Proposition A", "Inconnu", "Réponse"},
				{"Cardio", "ECG", "Question ?", "oui", "ignoré", "A"},
				{"", "", "", "", "", ""},
			},
		},
		{name: "Feuille libre", rows: [][]interface{}{{"n'importe quoi"}}},
	})

	wb, err := OpenWorkbook(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sheet, ok := wb.Sheets[SheetQCM]
	if !ok {
		t.Fatal("qcm sheet not recognized")
	}
	// the all-empty row is dropped
	if len(sheet.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(sheet.Rows))
	}

	row := sheet.Rows[0]
	if row.Index != 2 {
		t.Errorf("row index = %d, want 2", row.Index)
	}
	if row.Row.Get(ColQuestion) != "Question ?" || row.Row.Get(ColOptionA) != "oui" {
		t.Errorf("canonical row = %v", row.Row)
	}
	if _, ok := row.Row["ignoré"]; ok {
		t.Error("unknown headers must not leak into the row")
	}

	if len(wb.Unknown) != 1 || wb.Unknown[0] != "Feuille libre" {
		t.Errorf("unknown sheets = %v", wb.Unknown)
	}
	if wb.TotalRows() != 1 {
		t.Errorf("total rows = %d, want 1", wb.TotalRows())
	}
}
