//go:build !tracing

package trace

import "context"

// NoopExporter discards trace records. It is the default in builds without
// the tracing tag, so orchestrator operations pay no tracing cost.
type NoopExporter struct{}

// NewFileExporter returns a no-op exporter when tracing is disabled. The
// signature matches the tracing-enabled version so callers wire it the same
// way in both builds.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	return &NoopExporter{}, nil
}

// Export drops the record.
func (n *NoopExporter) Export(ctx context.Context, record *TraceRecord) error {
	return nil
}

// Close does nothing.
func (n *NoopExporter) Close() error {
	return nil
}
