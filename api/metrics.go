package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	reorderRoute    = "/api/items/:id/reorder"
	reorderSpanName = "items.reorder"
	tracerName      = "boardsync/api"
)

// reorderRequestMetrics collects timings and outcome attributes for one
// reorder request and emits them as an otel span plus a structured log
// record tagged with the trace id.
type reorderRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	commitDuration time.Duration
	boardID        string
	column         string
	errorStage     string
}

func newReorderRequestMetrics(ctx context.Context, logger *log.Logger) (*reorderRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, reorderSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &reorderRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *reorderRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *reorderRequestMetrics) ObserveCommit(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.commitDuration = duration
}

func (m *reorderRequestMetrics) SetBoard(boardID string) {
	m.boardID = boardID
}

func (m *reorderRequestMetrics) SetColumn(column string) {
	m.column = column
}

func (m *reorderRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *reorderRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	total := time.Since(m.start)

	if m.span != nil {
		attrs := []attribute.KeyValue{
			attribute.String("http.route", reorderRoute),
			attribute.Int("http.status_code", status),
		}
		if m.boardID != "" {
			attrs = append(attrs, attribute.String("board.id", m.boardID))
		}
		if m.column != "" {
			attrs = append(attrs, attribute.String("board.column", m.column))
		}
		if m.errorStage != "" {
			attrs = append(attrs, attribute.String("error.stage", m.errorStage))
		}
		m.span.SetAttributes(attrs...)
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    reorderRoute,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.commitDuration > 0 {
		fields["commit_ms"] = durationToMillis(m.commitDuration)
	}
	if m.boardID != "" {
		fields["board"] = m.boardID
	}
	if m.column != "" {
		fields["column"] = m.column
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
