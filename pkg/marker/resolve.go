package marker

import (
	"fmt"
	"strconv"
)

// Stage is one of the two experimental conditions.
type Stage string

const (
	StageLLM    Stage = "LLM"
	StageSearch Stage = "SEARCH"
)

// IsValid reports whether s is a recognised stage.
func (s Stage) IsValid() bool {
	return s == StageLLM || s == StageSearch
}

// ParseStage converts a wire string into a Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.IsValid() {
		return "", fmt.Errorf("marker: unknown stage %q; valid values: LLM, SEARCH", s)
	}
	return st, nil
}

// offset is 0 for the baseline condition; anything that is not SEARCH maps
// onto the LLM family.
func (s Stage) offset() Code {
	if s == StageSearch {
		return SearchOffset
	}
	return 0
}

// Semantic event names understood by [Resolve] in addition to the plain table
// names.
const (
	EventQuestionShown   = "QUESTION_SHOWN"
	EventAnswerSubmitted = "ANSWER_SUBMITTED"
	EventTaskStart       = "TASK_START"
	EventTaskEnd         = "TASK_END"
	EventEmergencyStop   = "EMERGENCY_STOP"
	EventExportInitiated = "EXPORT_INITIATED"
	EventSessionStart    = "SESSION_START"
)

// Resolve maps a semantic event onto its trigger code. stage and itemID are
// consulted only by the families that need them. The second result is false
// for events without hardware significance.
func Resolve(event string, stage Stage, itemID string) (Code, bool) {
	switch event {
	case EventQuestionShown:
		return ShownCode(stage, itemID), true
	case EventAnswerSubmitted:
		return SubmittedCode(stage, itemID), true
	case EventTaskStart:
		if stage == StageSearch {
			return TaskSearchStart, true
		}
		return TaskLLMStart, true
	case EventTaskEnd:
		if stage == StageSearch {
			return TaskSearchEnd, true
		}
		return TaskLLMEnd, true
	case EventEmergencyStop:
		return SessionEnd, true
	case EventExportInitiated:
		return ExportStart, true
	}
	if e, ok := byName[event]; ok && !e.Parameter {
		return e.Code, true
	}
	return 0, false
}

// ShownCode returns the QUESTION_SHOWN code for an item.
func ShownCode(stage Stage, itemID string) Code {
	n, _ := ItemNumber(itemID)
	return QuestionShownBase + stage.offset() + Code(n)
}

// SubmittedCode returns the ANSWER_SUBMITTED code for an item.
func SubmittedCode(stage Stage, itemID string) Code {
	n, _ := ItemNumber(itemID)
	return AnswerSubmittedBase + stage.offset() + Code(n)
}

// ItemNumber extracts the first run of ASCII digits from itemID. It returns
// (0, false) when itemID contains no digits.
func ItemNumber(itemID string) (int, bool) {
	start := -1
	end := len(itemID)
	for i := 0; i < len(itemID); i++ {
		c := itemID[i]
		isDigit := c >= '0' && c <= '9'
		if start < 0 {
			if isDigit {
				start = i
			}
			continue
		}
		if !isDigit {
			end = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(itemID[start:end])
	if err != nil {
		// Overflowing digit runs are as malformed as missing ones.
		return 0, false
	}
	return n, true
}

// InDomain reports whether itemID parses to an item number inside
// 1..MaxItem, the range over which the item families are injective.
func InDomain(itemID string) bool {
	n, ok := ItemNumber(itemID)
	return ok && n >= 1 && n <= MaxItem
}

// Baseline returns the code for a resting-state baseline segment. Phases are
// numbered 1 to 3.
func Baseline(phase int, eyesClosed bool) (Code, bool) {
	var open Code
	switch phase {
	case 1:
		open = Baseline1EyesOpen
	case 2:
		open = Baseline2EyesOpen
	case 3:
		open = Baseline3EyesOpen
	default:
		return 0, false
	}
	if eyesClosed {
		return open + 1, true
	}
	return open, true
}

// TLX returns the NASA-TLX questionnaire start or end code for round 1 or 2.
func TLX(round int, end bool) (Code, bool) {
	var c Code
	switch round {
	case 1:
		c = NasaTLX1Start
	case 2:
		c = NasaTLX2Start
	default:
		return 0, false
	}
	if end {
		c++
	}
	return c, true
}
