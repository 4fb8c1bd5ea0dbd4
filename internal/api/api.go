// Package api is the collaborator-facing surface of the engine. The
// experiment page drives a session through plain JSON over HTTP or through
// command frames on a WebSocket; both paths run the same operations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/internal/export"
	"github.com/MrWong99/triggersync/internal/observe"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// maxBodyBytes caps request bodies and WebSocket frames.
const maxBodyBytes = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Operation names shared by the HTTP routes and WebSocket command frames.
const (
	OpStartSession  = "startSession"
	OpRecordEvent   = "recordEvent"
	OpMarkShown     = "markShown"
	OpSubmitAnswer  = "submitAnswer"
	OpEmergencyStop = "emergencyStop"
	OpStats         = "stats"
	OpSnapshot      = "snapshot"
	OpConfig        = "config"
	OpExport        = "export"
)

var errBadRequest = errors.New("bad request")

// StartRequest is the body of POST /session/start.
type StartRequest struct {
	ParticipantID string `json:"participantId"`
	Group         int    `json:"group"`
	TestMode      bool   `json:"testMode"`
}

// EventRequest is the body of POST /events. When MarkerCode is absent the
// code is resolved from Event, Stage and ItemID; an explicit 0 records the
// event without a marker.
type EventRequest struct {
	Event      string          `json:"event"`
	Stage      marker.Stage    `json:"stage,omitempty"`
	ItemID     string          `json:"questionId,omitempty"`
	MarkerCode *int            `json:"markerCode,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// EventResponse reports the sequence id and the code the event carries.
type EventResponse struct {
	EventID    int `json:"eventId"`
	MarkerCode int `json:"markerCode,omitempty"`
}

// ShownRequest is the body of POST /items/shown.
type ShownRequest struct {
	Stage  marker.Stage `json:"stage"`
	ItemID string       `json:"questionId"`
}

// AnswerRequest is the body of POST /answers.
type AnswerRequest struct {
	Stage marker.Stage `json:"stage"`
	Item  engine.Item  `json:"question"`
	Input string       `json:"input"`
}

// AnswerResponse reports whether the answer was accepted as correct.
type AnswerResponse struct {
	Correct bool `json:"correct"`
}

// StopRequest is the body of POST /session/stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// ExportResponse is returned when a workbook was written to disk.
type ExportResponse struct {
	Path string `json:"path"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Options configures a [Server].
type Options struct {
	// ExportDir is where the export operation writes workbooks.
	ExportDir string

	// AllowedOrigins lists browser origins accepted on the WebSocket besides
	// the API's own host. Empty admits every origin.
	AllowedOrigins []string
}

type opFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Server serves the collaborator API.
type Server struct {
	eng     *engine.Engine
	exp     *export.Exporter
	dir     string
	origins []string
	ops     map[string]opFunc
}

// New creates an API server over eng. exp renders exports.
func New(eng *engine.Engine, exp *export.Exporter, opts Options) *Server {
	s := &Server{
		eng:     eng,
		exp:     exp,
		dir:     opts.ExportDir,
		origins: originPatterns(opts.AllowedOrigins),
	}
	s.ops = map[string]opFunc{
		OpStartSession:  s.startSession,
		OpRecordEvent:   s.recordEvent,
		OpMarkShown:     s.markShown,
		OpSubmitAnswer:  s.submitAnswer,
		OpEmergencyStop: s.emergencyStop,
		OpStats:         func(context.Context, json.RawMessage) (any, error) { return s.eng.Stats(), nil },
		OpSnapshot:      func(context.Context, json.RawMessage) (any, error) { return s.eng.Snapshot(), nil },
		OpConfig:        s.config,
		OpExport:        s.exportToDir,
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /session/start", s.handle(OpStartSession))
	mux.HandleFunc("POST /session/stop", s.handle(OpEmergencyStop))
	mux.HandleFunc("POST /events", s.handle(OpRecordEvent))
	mux.HandleFunc("POST /items/shown", s.handle(OpMarkShown))
	mux.HandleFunc("POST /answers", s.handle(OpSubmitAnswer))
	mux.HandleFunc("GET /stats", s.handle(OpStats))
	mux.HandleFunc("GET /snapshot", s.handle(OpSnapshot))
	mux.HandleFunc("GET /config", s.handle(OpConfig))
	mux.HandleFunc("POST /export", s.handle(OpExport))
	mux.HandleFunc("GET /export", s.handleDownload)
	mux.HandleFunc("GET /ws", s.handleWS)
}

// Apply runs one operation by name.
func (s *Server) Apply(ctx context.Context, op string, payload json.RawMessage) (any, error) {
	fn, ok := s.ops[op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", errBadRequest, op)
	}
	return fn(ctx, payload)
}

func (s *Server) handle(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload json.RawMessage
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, err)
				return
			}
			payload = body
		}
		res, err := s.Apply(r.Context(), op, payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	name, err := s.exp.Render(r.Context(), &buf)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		observe.Logger(r.Context()).Warn("api: export download interrupted", "file", name, "err", err)
	}
}

func (s *Server) startSession(ctx context.Context, payload json.RawMessage) (any, error) {
	var req StartRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return s.eng.StartSession(ctx, req.ParticipantID, req.Group, req.TestMode)
}

func (s *Server) recordEvent(ctx context.Context, payload json.RawMessage) (any, error) {
	var req EventRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Event == "" {
		return nil, fmt.Errorf("%w: field event is required", errBadRequest)
	}
	if req.Stage != "" && !req.Stage.IsValid() {
		return nil, fmt.Errorf("record %s: stage %q: %w", req.Event, req.Stage, engine.ErrInvalidStage)
	}

	var code marker.Code
	if req.MarkerCode != nil {
		if *req.MarkerCode < 0 {
			return nil, fmt.Errorf("%w: markerCode must not be negative", errBadRequest)
		}
		code = marker.Code(*req.MarkerCode)
	} else {
		stage := req.Stage
		if stage == "" {
			stage = marker.StageLLM
		}
		code, _ = marker.Resolve(req.Event, stage, req.ItemID)
	}

	var details any
	if len(req.Details) > 0 {
		details = req.Details
	}
	seq, err := s.eng.RecordEvent(ctx, req.Event, details, code)
	if err != nil {
		return nil, err
	}
	return EventResponse{EventID: seq, MarkerCode: int(code)}, nil
}

func (s *Server) markShown(ctx context.Context, payload json.RawMessage) (any, error) {
	var req ShownRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.ItemID == "" {
		return nil, fmt.Errorf("%w: field questionId is required", errBadRequest)
	}
	seq, err := s.eng.MarkItemShown(ctx, req.Stage, req.ItemID)
	if err != nil {
		return nil, err
	}
	return EventResponse{EventID: seq, MarkerCode: int(marker.ShownCode(req.Stage, req.ItemID))}, nil
}

func (s *Server) submitAnswer(ctx context.Context, payload json.RawMessage) (any, error) {
	var req AnswerRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Item.ID == "" {
		return nil, fmt.Errorf("%w: field question.id is required", errBadRequest)
	}
	ok, err := s.eng.SubmitAnswer(ctx, req.Stage, req.Item, req.Input)
	if err != nil {
		return nil, err
	}
	return AnswerResponse{Correct: ok}, nil
}

func (s *Server) emergencyStop(ctx context.Context, payload json.RawMessage) (any, error) {
	var req StopRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	seq, err := s.eng.EmergencyStop(ctx, req.Reason)
	if err != nil {
		return nil, err
	}
	return EventResponse{EventID: seq, MarkerCode: int(marker.SessionEnd)}, nil
}

func (s *Server) config(context.Context, json.RawMessage) (any, error) {
	return s.eng.Config()
}

func (s *Server) exportToDir(ctx context.Context, _ json.RawMessage) (any, error) {
	path, err := s.exp.Export(ctx, s.dir)
	if err != nil {
		return nil, err
	}
	return ExportResponse{Path: path}, nil
}

// decode unmarshals an optional JSON payload. Empty payloads leave v zero.
func decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps an operation error onto an HTTP status.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidParticipant),
		errors.Is(err, engine.ErrInvalidGroup),
		errors.Is(err, engine.ErrInvalidStage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
