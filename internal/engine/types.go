package engine

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/triggersync/pkg/marker"
)

// Delivery is the outcome of a marker dispatch. It is written at most once,
// from undelivered to delivered or failed.
type Delivery string

const (
	// DeliveryNone marks entries that never had a dispatch: no marker code,
	// or dispatch was disabled when the entry was recorded.
	DeliveryNone        Delivery = ""
	DeliveryUndelivered Delivery = "undelivered"
	DeliveryDelivered   Delivery = "delivered"
	DeliveryFailed      Delivery = "failed"
)

// Session is the live experiment run.
type Session struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Group         int       `json:"group"`
	TestMode      bool      `json:"testMode"`
	StartedAt     time.Time `json:"startedAt"`
}

// Event is one entry of the event log. Everything except Delivery is fixed
// at record time.
type Event struct {
	Seq          int             `json:"eventId"`
	Timestamp    int64           `json:"timestamp"`
	ReadableTime string          `json:"readableTime"`
	Name         string          `json:"event"`
	Details      json.RawMessage `json:"details"`
	MarkerCode   marker.Code     `json:"markerCode,omitempty"`
	Delivery     Delivery        `json:"delivery,omitempty"`
}

// Item is a stimulus as the collaborator presents it. Correct holds the
// expected answer; Alternatives lists further accepted spellings.
type Item struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Correct      string   `json:"correct"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Answer is one submitted response. ShownSeq is 0 when the item was never
// marked as shown.
type Answer struct {
	ParticipantID      string       `json:"participantId"`
	Stage              marker.Stage `json:"stage"`
	ItemID             string       `json:"questionId"`
	ItemText           string       `json:"questionText"`
	Input              string       `json:"inputRaw"`
	Correct            bool         `json:"isCorrect"`
	TimestampShown     int64        `json:"timestampShown"`
	TimestampSubmitted int64        `json:"timestampSubmitted"`
	ResponseMs         int64        `json:"responseTimeMs"`
	MarkerShown        marker.Code  `json:"markerShown"`
	MarkerSubmitted    marker.Code  `json:"markerSubmitted"`
	ShownSeq           int          `json:"shownEventId,omitempty"`
	SubmittedSeq       int          `json:"submittedEventId,omitempty"`
}

// Stats is a read-only projection of the current logs.
type Stats struct {
	TotalAnswers      int   `json:"totalAnswers"`
	CorrectAnswers    int   `json:"correctAnswers"`
	AverageResponseMs int64 `json:"averageResponseTime"`
	TotalEvents       int   `json:"totalEvents"`
	MarkersPending    int   `json:"markersPending"`
	MarkersDelivered  int   `json:"markersDelivered"`
	MarkersFailed     int   `json:"markersFailed"`
}

// Snapshot is a deep copy of the session and both logs. Session is nil when
// no session was ever started.
type Snapshot struct {
	Session *Session `json:"session"`
	Events  []Event  `json:"events"`
	Answers []Answer `json:"answers"`
}

// readableTime renders ms since epoch as RFC 3339 UTC with milliseconds.
func readableTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
