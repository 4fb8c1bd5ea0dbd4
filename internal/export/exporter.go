package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/internal/observe"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// DefaultSettleTimeout bounds how long an export waits for in-flight marker
// dispatches before rendering the remaining entries as pending.
const DefaultSettleTimeout = 3 * time.Second

// Exporter renders the live engine's logs to a workbook.
type Exporter struct {
	eng    *engine.Engine
	now    func() time.Time
	settle time.Duration
}

// ExporterOption configures an [Exporter].
type ExporterOption func(*Exporter)

// WithExportClock replaces the wall clock used for the export timestamp.
func WithExportClock(now func() time.Time) ExporterOption {
	return func(x *Exporter) { x.now = now }
}

// WithSettleTimeout sets how long to wait for in-flight dispatches.
func WithSettleTimeout(d time.Duration) ExporterOption {
	return func(x *Exporter) { x.settle = d }
}

// NewExporter creates an exporter for eng.
func NewExporter(eng *engine.Engine, opts ...ExporterOption) *Exporter {
	x := &Exporter{eng: eng, now: time.Now, settle: DefaultSettleTimeout}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Render records EXPORT_INITIATED, lets in-flight dispatches settle, writes
// the workbook to w and records EXPORT_COMPLETED. It returns the suggested
// file name.
func (x *Exporter) Render(ctx context.Context, w io.Writer) (string, error) {
	ctx, span := observe.StartSpan(ctx, "export.render")
	defer span.End()

	sess, ok := x.eng.Session()
	if !ok {
		return "", fmt.Errorf("export: %w", engine.ErrNoSession)
	}
	if _, err := x.eng.RecordEvent(ctx, engine.EventExportInitiated, nil, marker.ExportStart); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	settleCtx, cancel := context.WithTimeout(ctx, x.settle)
	err := x.eng.Wait(settleCtx)
	cancel()
	if err != nil {
		observe.Logger(ctx).Warn("export: dispatches still in flight; exporting them as pending", "err", err)
	}

	at := x.now()
	name := FileName(sess.ParticipantID, at)
	wb := Serialize(x.eng.Snapshot(), marker.Table(), at)
	if err := WriteXLSX(w, wb); err != nil {
		return "", err
	}

	if _, err := x.eng.RecordEvent(ctx, engine.EventExportCompleted, map[string]string{"fileName": name}, 0); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	observe.Logger(ctx).Info("export: workbook rendered", "file", name, "session_id", sess.ID)
	return name, nil
}

// Export renders the workbook into dir and returns its path. The file
// appears atomically under its final name.
func (x *Exporter) Export(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create %q: %w", dir, err)
	}

	var buf bytes.Buffer
	name, err := x.Render(ctx, &buf)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".export-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("export: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("export: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("export: close %s: %w", tmp.Name(), err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("export: rename to %s: %w", path, err)
	}
	return path, nil
}
