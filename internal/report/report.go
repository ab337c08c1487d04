// internal/report/report.go
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/capture"
	"github.com/xkilldash9x/snapreport/internal/driver"
)

// Status is the outcome recorded against a report node.
type Status string

const (
	StatusInfo Status = "info"
	StatusPass Status = "pass"
	StatusWarn Status = "warning"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Attachment links a screenshot to a report node.
type Attachment struct {
	ID      uuid.UUID
	RunID   string
	Node    string
	Status  Status
	Message string
	Path    string
	// Positioned is false for degraded captures, in which case PositionError
	// says why.
	Positioned    bool
	PositionError string
	CapturedAt    time.Time
}

// Sink receives attachments. Formatting them is the sink's business.
type Sink interface {
	Attach(ctx context.Context, a Attachment) error
}

// Capturer takes positioned screenshots. *capture.Pipeline satisfies it.
type Capturer interface {
	Take(ctx context.Context, name string, el driver.ElementRef, highlight bool) (*capture.Shot, error)
}

// Reporter captures screenshots for report nodes and hands them to a sink.
type Reporter struct {
	sink   Sink
	runID  string
	now    func() time.Time
	logger *zap.Logger
}

// NewReporter creates a reporter for one run. An empty runID gets a fresh one.
func NewReporter(sink Sink, runID string, logger *zap.Logger) *Reporter {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Reporter{
		sink:   sink,
		runID:  runID,
		now:    time.Now,
		logger: logger.Named("report").With(zap.String("run_id", runID)),
	}
}

// RunID identifies the run every attachment is filed under.
func (r *Reporter) RunID() string { return r.runID }

// AddScreenCapture screenshots through c, optionally positioning and
// highlighting el first, and attaches the image to node as an info entry.
func (r *Reporter) AddScreenCapture(ctx context.Context, c Capturer, node, name string, el driver.ElementRef, highlight bool) (Attachment, error) {
	return r.record(ctx, c, node, StatusInfo, "", name, el, highlight)
}

// FailNode marks node failed with cause and attaches a screenshot of the
// current viewport.
func (r *Reporter) FailNode(ctx context.Context, c Capturer, node string, cause error, name string) (Attachment, error) {
	if cause == nil {
		cause = errors.New("failed")
	}
	return r.record(ctx, c, node, StatusFail, cause.Error(), name, nil, false)
}

// Log attaches an existing screenshot to node without capturing.
func (r *Reporter) Log(ctx context.Context, node string, status Status, message string, shot *capture.Shot) (Attachment, error) {
	a := r.attachment(node, status, message, shot)
	if err := r.sink.Attach(ctx, a); err != nil {
		return Attachment{}, fmt.Errorf("failed to attach screenshot to %q: %w", node, err)
	}
	return a, nil
}

func (r *Reporter) record(ctx context.Context, c Capturer, node string, status Status, message, name string, el driver.ElementRef, highlight bool) (Attachment, error) {
	shot, err := c.Take(ctx, name, el, highlight)
	if err != nil {
		return Attachment{}, fmt.Errorf("screen capture for %q: %w", node, err)
	}
	if shot.PositionErr != nil {
		r.logger.Info("Attaching degraded capture.",
			zap.String("node", node),
			zap.String("path", shot.Path),
			zap.Error(shot.PositionErr))
	}
	return r.Log(ctx, node, status, message, shot)
}

func (r *Reporter) attachment(node string, status Status, message string, shot *capture.Shot) Attachment {
	a := Attachment{
		ID:         uuid.New(),
		RunID:      r.runID,
		Node:       node,
		Status:     status,
		Message:    message,
		CapturedAt: r.now().UTC(),
	}
	if shot != nil {
		a.Path = shot.Path
		a.Positioned = shot.Positioned
		if shot.PositionErr != nil {
			a.PositionError = shot.PositionErr.Error()
		}
	}
	return a
}

// LogSink writes attachments to a structured log. It is the sink used when no
// database is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("attachments")}
}

func (s *LogSink) Attach(_ context.Context, a Attachment) error {
	fields := []zap.Field{
		zap.Stringer("id", a.ID),
		zap.String("run_id", a.RunID),
		zap.String("node", a.Node),
		zap.String("status", string(a.Status)),
		zap.String("path", a.Path),
		zap.Bool("positioned", a.Positioned),
		zap.Time("captured_at", a.CapturedAt),
	}
	if a.Message != "" {
		fields = append(fields, zap.String("message", a.Message))
	}
	if a.PositionError != "" {
		fields = append(fields, zap.String("position_error", a.PositionError))
	}
	if a.Status == StatusFail {
		s.logger.Error("Screenshot attached.", fields...)
		return nil
	}
	s.logger.Info("Screenshot attached.", fields...)
	return nil
}
