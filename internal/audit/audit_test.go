package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

type memorySink struct {
	mu      sync.Mutex
	records []model.AuditRecord
	err     error
	block   chan struct{}
}

func (s *memorySink) Write(_ context.Context, rec model.AuditRecord) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) all() []model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditRecord(nil), s.records...)
}

func TestAuditor_RecordPersists(t *testing.T) {
	sink := &memorySink{}
	a := NewAuditor(sink, 8)

	tenantID := uuid.New()
	a.Record(model.AuditRecord{
		ActorID:        uuid.New(),
		EventType:      model.EventOverrideActivated,
		TargetTenantID: &tenantID,
		Severity:       model.SeverityWarning,
		Reason:         "incident",
	})
	require.NoError(t, a.Close(context.Background()))

	records := sink.all()
	require.Len(t, records, 1)
	assert.NotEqual(t, uuid.Nil, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())
	assert.Equal(t, model.SeverityWarning, records[0].Severity)
}

func TestAuditor_DefaultsSeverity(t *testing.T) {
	sink := &memorySink{}
	a := NewAuditor(sink, 1)

	a.Record(model.AuditRecord{ActorID: uuid.New(), EventType: model.EventImpersonationEnded})
	require.NoError(t, a.Close(context.Background()))

	require.Len(t, sink.all(), 1)
	assert.Equal(t, model.SeverityInfo, sink.all()[0].Severity)
}

func TestAuditor_SinkFailureFallsBack(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	a := NewAuditor(sink, 4)
	before := testutil.ToFloat64(monitoring.AuditWriteFailures)

	a.Record(model.AuditRecord{ActorID: uuid.New(), EventType: model.EventImpersonationStarted})
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, before+1, testutil.ToFloat64(monitoring.AuditWriteFailures))
}

func TestAuditor_FullBufferDoesNotBlock(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	a := NewAuditor(sink, 1)
	before := testutil.ToFloat64(monitoring.AuditWriteFailures)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Record(model.AuditRecord{ActorID: uuid.New(), EventType: model.EventOverrideDeactivated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	close(sink.block)
	require.NoError(t, a.Close(context.Background()))

	// At most one record is in the writer and one in the buffer.
	assert.GreaterOrEqual(t, testutil.ToFloat64(monitoring.AuditWriteFailures)-before, float64(3))
	assert.Equal(t, 5, len(sink.all())+int(testutil.ToFloat64(monitoring.AuditWriteFailures)-before))
}

func TestAuditor_RecordAfterClose(t *testing.T) {
	sink := &memorySink{}
	a := NewAuditor(sink, 1)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	before := testutil.ToFloat64(monitoring.AuditWriteFailures)
	a.Record(model.AuditRecord{ActorID: uuid.New(), EventType: model.EventOverrideActivated})
	assert.Equal(t, before+1, testutil.ToFloat64(monitoring.AuditWriteFailures))
	assert.Empty(t, sink.all())
}

func TestAuditor_CloseHonoursContext(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	a := NewAuditor(sink, 1)
	a.Record(model.AuditRecord{ActorID: uuid.New(), EventType: model.EventOverrideActivated})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, a.Close(context.Background()))
}
