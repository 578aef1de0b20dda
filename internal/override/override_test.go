package override

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

type fakeAdmins map[uuid.UUID]bool

func (f fakeAdmins) IsAdmin(_ context.Context, id uuid.UUID) (bool, error) {
	return f[id], nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (a *recordingAuditor) Record(rec model.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

func (a *recordingAuditor) last() model.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[len(a.records)-1]
}

type fixture struct {
	ctrl    *Controller
	auditor *recordingAuditor
	admins  fakeAdmins
	mr      *miniredis.Miniredis
	now     time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		auditor: &recordingAuditor{},
		admins:  fakeAdmins{},
		mr:      mr,
		now:     time.Now().UTC().Truncate(time.Second),
	}
	f.ctrl = NewController(store.NewOverrideStore(rdb), f.admins, f.auditor,
		WithClock(func() time.Time { return f.now }))
	return f
}

func adminSession(f *fixture) *model.ContextSession {
	s := &model.ContextSession{ID: uuid.New(), ActorUserID: uuid.New(), Context: model.AdminContext{}}
	f.admins[s.ActorUserID] = true
	return s
}

func TestController_ActivateAndDeactivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sess := adminSession(f)

	state, err := f.ctrl.Activate(ctx, sess, "platform report")
	require.NoError(t, err)
	assert.Equal(t, sess.ActorUserID, state.AdminID)
	assert.Equal(t, f.now, state.ActivatedAt)
	assert.True(t, f.ctrl.IsActive(ctx, sess.ID))

	rec := f.auditor.last()
	assert.Equal(t, model.EventOverrideActivated, rec.EventType)
	assert.Equal(t, model.SeverityWarning, rec.Severity)
	assert.Equal(t, "platform report", rec.Reason)

	require.NoError(t, f.ctrl.Deactivate(ctx, sess))
	assert.False(t, f.ctrl.IsActive(ctx, sess.ID))
	rec = f.auditor.last()
	assert.Equal(t, model.EventOverrideDeactivated, rec.EventType)
	assert.Equal(t, model.SeverityInfo, rec.Severity)
}

func TestController_ScopedToSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := adminSession(f), adminSession(f)

	_, err := f.ctrl.Activate(ctx, a, "")
	require.NoError(t, err)
	assert.True(t, f.ctrl.IsActive(ctx, a.ID))
	assert.False(t, f.ctrl.IsActive(ctx, b.ID))
}

func TestController_ExpiresWithoutDeactivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sess := adminSession(f)

	_, err := f.ctrl.Activate(ctx, sess, "")
	require.NoError(t, err)

	f.now = f.now.Add(DefaultMaxDuration - time.Second)
	assert.True(t, f.ctrl.IsActive(ctx, sess.ID))

	f.now = f.now.Add(time.Second)
	assert.False(t, f.ctrl.IsActive(ctx, sess.ID))

	// Expired state is removed on read.
	assert.False(t, f.mr.Exists("override:"+sess.ID.String()))
}

func TestController_StoreTTLBoundsState(t *testing.T) {
	f := setup(t)
	sess := adminSession(f)

	_, err := f.ctrl.Activate(context.Background(), sess, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDuration, f.mr.TTL("override:"+sess.ID.String()))
}

func TestController_RejectsNonAdminSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tenantID := uuid.New()
	tc, err := model.NewTenantUserContext(tenantID)
	require.NoError(t, err)
	sess := &model.ContextSession{ID: uuid.New(), ActorUserID: uuid.New(), Context: tc}

	_, err = f.ctrl.Activate(ctx, sess, "need data")
	assert.ErrorIs(t, err, ErrUnauthorizedOverride)
	assert.False(t, f.ctrl.IsActive(ctx, sess.ID))

	rec := f.auditor.last()
	assert.Equal(t, model.EventOverrideEscalationAttempt, rec.EventType)
	assert.Equal(t, model.SeverityCritical, rec.Severity)
	assert.Equal(t, sess.ActorUserID, rec.ActorID)
	assert.Equal(t, tenantID, *rec.TargetTenantID)
}

func TestController_RejectsImpersonatedSession(t *testing.T) {
	f := setup(t)
	adminID := uuid.New()
	f.admins[adminID] = true

	ic, err := model.NewImpersonatedContext(uuid.New(), adminID)
	require.NoError(t, err)
	sess := &model.ContextSession{ID: uuid.New(), ActorUserID: uuid.New(), Context: ic}

	_, err = f.ctrl.Activate(context.Background(), sess, "")
	assert.ErrorIs(t, err, ErrUnauthorizedOverride)
	assert.Equal(t, adminID.String(), f.auditor.last().Metadata["original_user_id"])
}

func TestController_RejectsRevokedAdmin(t *testing.T) {
	f := setup(t)
	sess := adminSession(f)
	f.admins[sess.ActorUserID] = false

	_, err := f.ctrl.Activate(context.Background(), sess, "")
	assert.ErrorIs(t, err, ErrUnauthorizedOverride)
	assert.Equal(t, model.EventOverrideEscalationAttempt, f.auditor.last().EventType)
}

func TestController_RejectsMissingSession(t *testing.T) {
	f := setup(t)

	_, err := f.ctrl.Activate(context.Background(), nil, "no token")
	assert.ErrorIs(t, err, ErrUnauthorizedOverride)

	rec := f.auditor.last()
	assert.Equal(t, model.EventOverrideEscalationAttempt, rec.EventType)
	assert.Equal(t, model.SeverityCritical, rec.Severity)
	assert.Equal(t, uuid.Nil, rec.ActorID)
	assert.Nil(t, rec.SessionID)
	assert.Equal(t, "no session", rec.Metadata["cause"])
	assert.Equal(t, "no token", rec.Reason)
}

func TestController_Clear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sess := adminSession(f)

	require.NoError(t, f.ctrl.Clear(ctx, sess.ID))
	assert.Empty(t, f.auditor.records)

	_, err := f.ctrl.Activate(ctx, sess, "")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Clear(ctx, sess.ID))
	assert.False(t, f.ctrl.IsActive(ctx, sess.ID))
	assert.Equal(t, model.EventOverrideDeactivated, f.auditor.last().EventType)
}

func TestController_MaxDurationOption(t *testing.T) {
	f := setup(t)
	c := NewController(nil, nil, nil, WithMaxDuration(time.Minute))
	assert.Equal(t, time.Minute, c.MaxDuration())
	assert.Equal(t, DefaultMaxDuration, f.ctrl.MaxDuration())
}
