package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextSession_ImpersonationRoundTrip(t *testing.T) {
	tenantID, adminID, targetID := uuid.New(), uuid.New(), uuid.New()
	ic, err := NewImpersonatedContext(tenantID, adminID)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	s := ContextSession{
		ID:          uuid.New(),
		ActorUserID: targetID,
		Context:     ic,
		CreatedAt:   now,
		ExpiresAt:   now.Add(4 * time.Hour),
		Metadata:    map[string]string{"reason": "ticket 42"},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got ContextSession
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, ContextImpersonatedTenant, got.Type())
	gotTenant, ok := got.TenantID()
	assert.True(t, ok)
	assert.Equal(t, tenantID, gotTenant)
	assert.Equal(t, targetID, got.ActorUserID)
	assert.Equal(t, adminID, got.Context.(ImpersonatedContext).OriginalUserID())
	assert.Equal(t, ContextAdmin, got.Context.(ImpersonatedContext).OriginalContextType())
}

func TestContextSession_RejectsInvalidCombinations(t *testing.T) {
	id := uuid.New().String()
	cases := map[string]string{
		"impersonation without original user": `{"session_id":"` + id + `","context_type":"impersonated_tenant","tenant_id":"` + id + `","original_context_type":"admin"}`,
		"impersonation from tenant":            `{"session_id":"` + id + `","context_type":"impersonated_tenant","tenant_id":"` + id + `","original_user_id":"` + id + `","original_context_type":"tenant"}`,
		"tenant without tenant id":             `{"session_id":"` + id + `","context_type":"tenant"}`,
		"admin with tenant id":                 `{"session_id":"` + id + `","context_type":"admin","tenant_id":"` + id + `"}`,
		"unknown context":                      `{"session_id":"` + id + `","context_type":"root"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var s ContextSession
			err := json.Unmarshal([]byte(raw), &s)
			assert.ErrorIs(t, err, ErrInvalidSessionContext)
		})
	}
}

func TestNewImpersonatedContext_RequiresOriginalUser(t *testing.T) {
	_, err := NewImpersonatedContext(uuid.New(), uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidSessionContext)

	_, err = NewTenantUserContext(uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidSessionContext)
}

func TestContextSession_MarshalWithoutContext(t *testing.T) {
	_, err := json.Marshal(ContextSession{ID: uuid.New()})
	assert.Error(t, err)
}

func TestOverrideState_ActiveAt(t *testing.T) {
	now := time.Now()
	o := &OverrideState{AdminID: uuid.New(), ActivatedAt: now}

	assert.True(t, o.ActiveAt(now.Add(14*time.Minute), 15*time.Minute))
	assert.False(t, o.ActiveAt(now.Add(15*time.Minute), 15*time.Minute))
	assert.False(t, (&OverrideState{}).ActiveAt(now, 15*time.Minute))

	var nilState *OverrideState
	assert.False(t, nilState.ActiveAt(now, 15*time.Minute))
}

func TestTenantContext_Scope(t *testing.T) {
	assert.False(t, UnscopedContext().IsScoped())
	assert.False(t, TenantContext{TenantID: uuid.New(), Degraded: true}.IsScoped())
	assert.True(t, TenantContext{TenantID: uuid.New()}.IsScoped())
}
