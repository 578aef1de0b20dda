package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

const (
	DefaultBufferSize   = 256
	defaultWriteTimeout = 5 * time.Second
)

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec model.AuditRecord) error
}

// Auditor queues audit records for a background writer. Record never blocks;
// a record that cannot be persisted is written to the local log instead.
type Auditor struct {
	sink         Sink
	records      chan model.AuditRecord
	done         chan struct{}
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewAuditor creates an Auditor and starts its writer.
func NewAuditor(sink Sink, bufferSize int) *Auditor {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	a := &Auditor{
		sink:         sink,
		records:      make(chan model.AuditRecord, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	go a.startWriter()
	return a
}

// startWriter drains the queue until Close is called
func (a *Auditor) startWriter() {
	defer close(a.done)
	for rec := range a.records {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		err := a.sink.Write(ctx, rec)
		cancel()
		if err != nil {
			fallback(rec, err)
		}
	}
}

// Record stamps rec with an id and timestamp if missing, logs it and queues
// it for persistence.
func (a *Auditor) Record(rec model.AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.now().UTC()
	}
	if rec.Severity == "" {
		rec.Severity = model.SeverityInfo
	}

	logEvent(rec)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		fallback(rec, errClosed)
		return
	}
	select {
	case a.records <- rec:
	default:
		fallback(rec, errBufferFull)
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.records)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logEvent(rec model.AuditRecord) {
	var ev *zerolog.Event
	switch rec.Severity {
	case model.SeverityCritical:
		ev = log.Error()
	case model.SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	withRecord(ev, rec).Msg("Audit event")
}

func fallback(rec model.AuditRecord, err error) {
	monitoring.AuditWriteFailures.Inc()
	withRecord(log.Error().Err(err), rec).
		Interface("metadata", rec.Metadata).
		Time("timestamp", rec.Timestamp).
		Msg("Audit record not persisted")
}

func withRecord(ev *zerolog.Event, rec model.AuditRecord) *zerolog.Event {
	ev = ev.Str("audit_id", rec.ID.String()).
		Str("event_type", rec.EventType).
		Str("actor_id", rec.ActorID.String()).
		Str("severity", rec.Severity)
	if rec.ActedAsID != nil {
		ev = ev.Str("acted_as_id", rec.ActedAsID.String())
	}
	if rec.TargetTenantID != nil {
		ev = ev.Str("tenant_id", rec.TargetTenantID.String())
	}
	if rec.SessionID != nil {
		ev = ev.Str("session_id", rec.SessionID.String())
	}
	if rec.Reason != "" {
		ev = ev.Str("reason", rec.Reason)
	}
	return ev
}
