// Package marker defines the trigger code space shared with the acquisition
// hardware and the resolver that maps semantic events onto it.
//
// Every code written to the device comes from this package. The table is
// fixed; item-indexed families are computed as
//
//	base + offset(stage) + item
//
// where base is [QuestionShownBase] or [AnswerSubmittedBase], offset is 0 for
// [StageLLM] and [SearchOffset] for [StageSearch], and item is in
// 1..[MaxItem]. Within that domain no two distinct (event, stage, item)
// triples share a code.
package marker

// Code is an integer trigger code as written to the acquisition device.
// The zero value means "no marker".
type Code int

// Fixed codes.
const (
	SessionStart Code = 1
	SessionEnd   Code = 999

	Baseline1EyesOpen   Code = 10
	Baseline1EyesClosed Code = 11
	Baseline2EyesOpen   Code = 12
	Baseline2EyesClosed Code = 13
	Baseline3EyesOpen   Code = 14
	Baseline3EyesClosed Code = 15

	// EyesClosedEnd marks the end of an eyes-closed segment (cue to open eyes).
	EyesClosedEnd Code = 16

	TaskLLMStart    Code = 20
	TaskLLMEnd      Code = 21
	TaskSearchStart Code = 30
	TaskSearchEnd   Code = 31

	QuestionShownBase   Code = 100
	AnswerSubmittedBase Code = 200

	// SearchOffset separates the SEARCH item families from the LLM ones.
	SearchOffset Code = 20

	NasaTLX1Start Code = 500
	NasaTLX1End   Code = 501
	NasaTLX2Start Code = 510
	NasaTLX2End   Code = 511

	ExportStart Code = 900
)

// MaxItem is the largest item number inside the resolver's injective domain.
const MaxItem = int(SearchOffset) - 1

// Entry is one row of the static code table.
type Entry struct {
	Name        string
	Code        Code
	Description string

	// Parameter marks bases and offsets that are never sent on their own.
	Parameter bool
}

// table is ordered the way the export sheet lists it.
var table = []Entry{
	{Name: "SESSION_START", Code: SessionStart, Description: "Experiment session start"},
	{Name: "SESSION_END", Code: SessionEnd, Description: "Session end"},

	{Name: "BASELINE_1_EYES_OPEN", Code: Baseline1EyesOpen, Description: "Baseline 1: eyes open"},
	{Name: "BASELINE_1_EYES_CLOSED", Code: Baseline1EyesClosed, Description: "Baseline 1: eyes closed"},
	{Name: "BASELINE_2_EYES_OPEN", Code: Baseline2EyesOpen, Description: "Baseline 2: eyes open"},
	{Name: "BASELINE_2_EYES_CLOSED", Code: Baseline2EyesClosed, Description: "Baseline 2: eyes closed"},
	{Name: "BASELINE_3_EYES_OPEN", Code: Baseline3EyesOpen, Description: "Baseline 3: eyes open"},
	{Name: "BASELINE_3_EYES_CLOSED", Code: Baseline3EyesClosed, Description: "Baseline 3: eyes closed"},
	{Name: "EYES_CLOSED_END", Code: EyesClosedEnd, Description: "End of eyes closed (signal to open eyes)"},

	{Name: "TASK_LLM_START", Code: TaskLLMStart, Description: "LLM task start"},
	{Name: "TASK_LLM_END", Code: TaskLLMEnd, Description: "LLM task end"},
	{Name: "TASK_SEARCH_START", Code: TaskSearchStart, Description: "SEARCH task start"},
	{Name: "TASK_SEARCH_END", Code: TaskSearchEnd, Description: "SEARCH task end"},

	{Name: "QUESTION_SHOWN_BASE", Code: QuestionShownBase, Description: "Question shown (LLM: 100+N, SEARCH: 120+N)", Parameter: true},
	{Name: "ANSWER_SUBMITTED_BASE", Code: AnswerSubmittedBase, Description: "Answer submitted (LLM: 200+N, SEARCH: 220+N)", Parameter: true},
	{Name: "SEARCH_OFFSET", Code: SearchOffset, Description: "Offset for SEARCH (+20)", Parameter: true},

	{Name: "NASA_TLX_1_START", Code: NasaTLX1Start, Description: "NASA-TLX 1 start"},
	{Name: "NASA_TLX_1_END", Code: NasaTLX1End, Description: "NASA-TLX 1 end"},
	{Name: "NASA_TLX_2_START", Code: NasaTLX2Start, Description: "NASA-TLX 2 start"},
	{Name: "NASA_TLX_2_END", Code: NasaTLX2End, Description: "NASA-TLX 2 end"},

	{Name: "EXPORT_START", Code: ExportStart, Description: "Data export"},
}

// byName indexes the table for direct lookups.
var byName = func() map[string]Entry {
	m := make(map[string]Entry, len(table))
	for _, e := range table {
		m[e.Name] = e
	}
	return m
}()

// Table returns a copy of the code table in its canonical order.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Lookup returns the table entry for a symbolic name.
func Lookup(name string) (Entry, bool) {
	e, ok := byName[name]
	return e, ok
}

// Description returns the human-readable description for name, or "".
func Description(name string) string {
	return byName[name].Description
}
