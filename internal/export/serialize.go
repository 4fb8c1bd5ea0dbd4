// Package export projects the engine's logs into the four-sheet workbook
// analysts load after a session: Summary, Answers, EventLog and MarkerCodes.
// Sheet order and column order are fixed; analysis scripts address columns
// by position.
package export

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// Sheet names in workbook order.
const (
	SheetSummary     = "Summary"
	SheetAnswers     = "Answers"
	SheetEventLog    = "EventLog"
	SheetMarkerCodes = "MarkerCodes"
)

// Column headers per sheet.
var (
	SummaryColumns = []string{
		"ParticipantID", "Group", "Date", "TotalQuestions", "CorrectAnswers",
		"TestMode", "ExportTime", "SessionID",
	}
	AnswersColumns = []string{
		"ParticipantID", "Stage", "QuestionID", "QuestionText", "AnswerText",
		"IsCorrect", "ResponseTime_ms", "MarkerShown", "MarkerSubmitted",
		"TimestampShown", "TimestampShown_Readable", "TimestampSubmitted",
		"TimestampSubmitted_Readable", "ShownEventId", "SubmittedEventId",
	}
	EventLogColumns = []string{
		"EventId", "Timestamp", "ReadableTime", "Event", "MarkerCode",
		"MarkerSent", "Details",
	}
	MarkerCodesColumns = []string{"Code", "EventName", "Description"}
)

// questionTextLimit is the number of runes of item text kept in the
// Answers sheet.
const questionTextLimit = 100

// Sheet is one named table. Cells hold string, int or int64 values.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Workbook is the serialised export.
type Workbook struct {
	Sheets []Sheet
}

// Sheet returns the sheet called name.
func (wb Workbook) Sheet(name string) (Sheet, bool) {
	for _, s := range wb.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return Sheet{}, false
}

// Serialize builds the workbook for snap. It is deterministic apart from
// exportedAt.
func Serialize(snap engine.Snapshot, table []marker.Entry, exportedAt time.Time) Workbook {
	return Workbook{Sheets: []Sheet{
		summarySheet(snap, exportedAt),
		answersSheet(snap.Answers),
		eventLogSheet(snap.Events),
		MarkerCodesSheet(table),
	}}
}

// FileName returns Participant_{id}_{epochMillis}.xlsx. Characters that
// are unsafe in file names are replaced with underscores.
func FileName(participantID string, exportedAt time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, participantID)
	return fmt.Sprintf("Participant_%s_%d.xlsx", safe, exportedAt.UnixMilli())
}

func summarySheet(snap engine.Snapshot, exportedAt time.Time) Sheet {
	var pid, sessionID string
	var group int
	testMode := "No"
	if s := snap.Session; s != nil {
		pid, group, sessionID = s.ParticipantID, s.Group, s.ID
		if s.TestMode {
			testMode = "Yes"
		}
	}
	exportedAt = exportedAt.UTC()
	correct := 0
	for _, a := range snap.Answers {
		if a.Correct {
			correct++
		}
	}
	return Sheet{
		Name:   SheetSummary,
		Header: SummaryColumns,
		Rows: [][]any{{
			pid,
			group,
			exportedAt.Format("2006-01-02"),
			len(snap.Answers),
			correct,
			testMode,
			readable(exportedAt.UnixMilli()),
			sessionID,
		}},
	}
}

func answersSheet(answers []engine.Answer) Sheet {
	rows := make([][]any, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, []any{
			a.ParticipantID,
			string(a.Stage),
			a.ItemID,
			truncate(a.ItemText),
			a.Input,
			boolCell(a.Correct),
			a.ResponseMs,
			int(a.MarkerShown),
			int(a.MarkerSubmitted),
			a.TimestampShown,
			readable(a.TimestampShown),
			a.TimestampSubmitted,
			readable(a.TimestampSubmitted),
			optionalSeq(a.ShownSeq),
			optionalSeq(a.SubmittedSeq),
		})
	}
	return Sheet{Name: SheetAnswers, Header: AnswersColumns, Rows: rows}
}

func eventLogSheet(events []engine.Event) Sheet {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var code any = ""
		if e.MarkerCode > 0 {
			code = int(e.MarkerCode)
		}
		rows = append(rows, []any{
			e.Seq,
			e.Timestamp,
			e.ReadableTime,
			e.Name,
			code,
			deliveryCell(e.Delivery),
			string(e.Details),
		})
	}
	return Sheet{Name: SheetEventLog, Header: EventLogColumns, Rows: rows}
}

// MarkerCodesSheet renders the static code table.
func MarkerCodesSheet(table []marker.Entry) Sheet {
	rows := make([][]any, 0, len(table))
	for _, e := range table {
		rows = append(rows, []any{int(e.Code), e.Name, e.Description})
	}
	return Sheet{Name: SheetMarkerCodes, Header: MarkerCodesColumns, Rows: rows}
}

// truncate keeps the first questionTextLimit runes and appends an ellipsis.
func truncate(s string) string {
	if utf8.RuneCountInString(s) > questionTextLimit {
		s = string([]rune(s)[:questionTextLimit])
	}
	return s + "..."
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func deliveryCell(d engine.Delivery) string {
	switch d {
	case engine.DeliveryDelivered:
		return "YES"
	case engine.DeliveryFailed:
		return "NO"
	case engine.DeliveryUndelivered:
		return "PENDING"
	}
	return ""
}

func optionalSeq(seq int) any {
	if seq <= 0 {
		return ""
	}
	return seq
}

func readable(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
