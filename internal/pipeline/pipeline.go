// Package pipeline runs the live attendance loop: pull frames from a
// source, sample every N-th one, recognize faces and feed the observations
// through the attendance engine. Exactly one goroutine runs the loop, so
// recognition and decisions for a session are strictly serialized.
package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"timekeeper-go/internal/core/attendance"
	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/core/sampler"
	"timekeeper-go/internal/recognition"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// retryInterval is how often pending ledger writes are retried while the
// loop is idle between frames.
const retryInterval = 10 * time.Second

// FrameSource delivers consecutive frames of a capture session. Next blocks
// until a frame is available, the source is exhausted (io.EOF) or the
// context is cancelled.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, time.Time, error)
}

// EventSink receives every committed attendance event, e.g. for SSE or MQTT
// fan-out. Sinks must not block.
type EventSink interface {
	PublishEvent(ev *models.AttendanceEvent)
}

// Pipeline owns one capture session.
type Pipeline struct {
	source  FrameSource
	sampler sampler.Sampler
	adapter *recognition.Adapter
	engine  *attendance.Engine
	sinks   []EventSink

	sessionID string
	logFields log.Fields
}

// New assembles a pipeline over the given source and processing stages.
// Sinks are optional.
func New(source FrameSource, smp sampler.Sampler, adapter *recognition.Adapter, engine *attendance.Engine, sinks ...EventSink) *Pipeline {
	sessionID := uuid.New().String()
	return &Pipeline{
		source:    source,
		sampler:   smp,
		adapter:   adapter,
		engine:    engine,
		sinks:     sinks,
		sessionID: sessionID,
		logFields: log.Fields{"component": "pipeline", "session": sessionID},
	}
}

// SessionID returns the unique ID of this capture session.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Run drives the capture loop until the context is cancelled, the source is
// exhausted or the recognition model becomes unavailable. Model
// unavailability is fatal for the session and returned to the caller;
// attendance state is left exactly as it was.
func (p *Pipeline) Run(ctx context.Context) error {
	log.WithFields(p.logFields).Infof("Capture session started (sampling every %d frames)", p.sampler.Interval())

	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	frameIndex := 0
	processed := 0
	for {
		select {
		case <-ctx.Done():
			log.WithFields(p.logFields).Infof("Capture session stopped after %d frames (%d processed)", frameIndex, processed)
			return ctx.Err()
		case <-retry.C:
			if n := p.engine.PendingWrites(); n > 0 {
				if err := p.engine.FlushPending(); err != nil {
					log.WithFields(p.logFields).Warnf("Ledger retry failed, %d writes still pending: %v", n, err)
				}
			}
			continue
		default:
		}

		frame, at, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.WithFields(p.logFields).Infof("Frame source exhausted after %d frames (%d processed)", frameIndex, processed)
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Transient capture glitch: skip the frame, it still counts.
			log.WithFields(p.logFields).Warnf("Failed to read frame %d: %v", frameIndex, err)
			frameIndex++
			continue
		}

		idx := frameIndex
		frameIndex++
		if !p.sampler.ShouldProcess(idx) {
			continue
		}
		processed++

		if err := p.processFrame(ctx, frame, at, idx); err != nil {
			return err
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame image.Image, at time.Time, idx int) error {
	observations, err := p.adapter.Recognize(ctx, frame, at)
	if err != nil {
		if errors.Is(err, recognition.ErrModelUnavailable) {
			log.WithFields(p.logFields).Errorf("Recognition model unavailable, aborting session: %v", err)
			return err
		}
		// Degraded recognition on this frame only: skip it and move on.
		log.WithFields(p.logFields).Warnf("Recognition failed for frame %d: %v", idx, err)
		return nil
	}

	for i := range observations {
		event, err := p.engine.Evaluate(observations[i])
		if err != nil {
			// The transition is committed in memory and queued for the
			// ledger; the event is still worth publishing.
			log.WithFields(p.logFields).Errorf("Ledger append failed for '%s': %v", observations[i].Identity, err)
		}
		if event == nil {
			continue
		}

		log.WithFields(p.logFields).Infof("Attendance: %s -> %s (confidence %.2f)", event.Name, event.Status, event.Confidence)
		for _, sink := range p.sinks {
			sink.PublishEvent(event)
		}
	}

	return nil
}
