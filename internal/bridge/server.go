package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/triggersync/internal/observe"
)

// maxBodyBytes caps /send-marker request bodies.
const maxBodyBytes = 64 << 10

// Device delivers one trigger code. [*Sender] is the production
// implementation.
type Device interface {
	Send(ctx context.Context, code int) error
}

// Result is the outcome of one /send-marker call.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// HealthInfo echoes the bridge's static configuration.
type HealthInfo struct {
	TargetHost string
	TargetPort int
	ListenPort int
}

// Endpoint is a host/port pair in the /health response.
type Endpoint struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port"`
}

// HealthResponse is the JSON body of GET /health. The device block keeps the
// "nic2" key the experiment page already reads.
type HealthResponse struct {
	Status string   `json:"status"`
	Device Endpoint `json:"nic2"`
	Server Endpoint `json:"server"`
}

// MarkersResponse is the JSON body of GET /markers.
type MarkersResponse struct {
	Total   int      `json:"total"`
	Markers []Record `json:"markers"`
}

// SendRequest is the JSON body of POST /send-marker. Details is accepted
// and logged but never forwarded to the device.
type SendRequest struct {
	Code    int             `json:"code"`
	Name    string          `json:"name"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Options configures a [Server].
type Options struct {
	DeviceHost string
	DevicePort int
	ListenPort int

	// Now overrides the clock used for audit records and responses.
	Now func() time.Time
}

// Server is the bridge's HTTP facade over a [Device].
type Server struct {
	device Device
	audit  *AuditLog
	info   HealthInfo
	now    func() time.Time
}

// NewServer creates a bridge server forwarding to device.
func NewServer(device Device, opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		device: device,
		audit:  &AuditLog{},
		info: HealthInfo{
			TargetHost: opts.DeviceHost,
			TargetPort: opts.DevicePort,
			ListenPort: opts.ListenPort,
		},
		now: now,
	}
}

// Audit returns the server's audit trail.
func (s *Server) Audit() *AuditLog { return s.audit }

// Health returns the static configuration echo.
func (s *Server) Health() HealthInfo { return s.info }

// SendMarker forwards code to the device and, on success, appends it to the
// audit trail. Transport failures are reported in the result, not returned.
func (s *Server) SendMarker(ctx context.Context, code int, name string, details json.RawMessage) Result {
	ctx, span := observe.StartSpan(ctx, "bridge.send_marker")
	span.SetAttributes(observe.MarkerAttrs(code, name)...)
	defer span.End()

	log := observe.Logger(ctx)
	if err := s.device.Send(ctx, code); err != nil {
		log.Warn("bridge: marker not delivered",
			"code", code,
			"name", name,
			"device", fmt.Sprintf("%s:%d", s.info.TargetHost, s.info.TargetPort),
			"err", err,
		)
		return Result{
			Success: false,
			Error:   err.Error(),
			Hint: fmt.Sprintf("check that the acquisition device is running and accepts TCP connections on %s:%d",
				s.info.TargetHost, s.info.TargetPort),
		}
	}

	rec := s.audit.Append(code, name, s.now())
	log.Info("bridge: marker forwarded", "code", code, "name", name, "details", string(details))
	return Result{
		Success:   true,
		Message:   fmt.Sprintf("marker %d (%s) forwarded to device", code, name),
		Timestamp: rec.Timestamp,
	}
}

// LogSummary logs the number of markers forwarded so far. Called on
// shutdown.
func (s *Server) LogSummary() {
	slog.Info("bridge: session statistics", "markers_forwarded", s.audit.Len())
}

// Register adds the bridge routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /send-marker", s.handleSendMarker)
	mux.HandleFunc("GET /markers", s.handleMarkers)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleSendMarker(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Result{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Result{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.Code == 0 || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, Result{Error: "fields code and name are required"})
		return
	}

	res := s.SendMarker(r.Context(), req.Code, req.Name, req.Details)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleMarkers(w http.ResponseWriter, _ *http.Request) {
	recs := s.audit.Records()
	writeJSON(w, http.StatusOK, MarkersResponse{Total: len(recs), Markers: recs})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "running",
		Device: Endpoint{Host: s.info.TargetHost, Port: s.info.TargetPort},
		Server: Endpoint{Port: s.info.ListenPort},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
