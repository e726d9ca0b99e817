package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"St. Mary's Clinic", "st-mary-s-clinic"},
		{"  Lagos General  ", "lagos-general"},
		{"ABC--123", "abc-123"},
		{"---", ""},
		{"Kano Teaching Hospital (KTH)", "kano-teaching-hospital-kth"},
		{"Clínica Única", "cl-nica-nica"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ToSlug(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, `^([a-z0-9]+(-[a-z0-9]+)*)?$`, got)
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusGrace, StatusSuspended, StatusExpired} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("cancelled").Valid())
	assert.False(t, Status("").Valid())
}

func TestTenant_IsReadOnly(t *testing.T) {
	var nilTenant *Tenant
	assert.False(t, nilTenant.IsReadOnly())

	cases := map[Status]bool{
		StatusActive:    false,
		StatusGrace:     false,
		StatusSuspended: true,
		StatusExpired:   true,
	}
	for status, want := range cases {
		tn := &Tenant{SubscriptionStatus: status}
		assert.Equal(t, want, tn.IsReadOnly(), status)
	}
}

func TestTenant_BillingDue(t *testing.T) {
	tn := &Tenant{NextBillingDate: billing.MustParseDate("2026-02-15")}
	assert.False(t, tn.BillingDue(billing.MustParseDate("2026-02-15")))
	assert.True(t, tn.BillingDue(billing.MustParseDate("2026-02-16")))
	assert.False(t, (&Tenant{}).BillingDue(billing.MustParseDate("2026-02-16")))
}

func TestPatches(t *testing.T) {
	name := "New Name"
	color := "#000"
	p := ProfilePatch{Name: &name, BrandColor: &color}.Apply(Profile{Name: "Old", City: "Kano"})
	assert.Equal(t, "New Name", p.Name)
	assert.Equal(t, "#000", p.BrandColor)
	assert.Equal(t, "Kano", p.City)

	staff := 500
	u := UsagePatch{Staff: &staff}.Apply(Usage{Staff: 1, Patients: 10, StorageGB: 2})
	assert.Equal(t, Usage{Staff: 500, Patients: 10, StorageGB: 2}, u)
}

func TestDefaultTenants(t *testing.T) {
	seed := DefaultTenants()
	require.Len(t, seed, 1)
	assert.Equal(t, "TEN-001", seed[0].ID)
	assert.Equal(t, plans.Professional, seed[0].PlanID)
	assert.Equal(t, StatusActive, seed[0].SubscriptionStatus)
	assert.Equal(t, "2026-02-15", seed[0].NextBillingDate.String())

	seed[0].Profile.Name = "mutated"
	assert.NotEqual(t, "mutated", DefaultTenants()[0].Profile.Name)
}

func loadedStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	s := NewStore(backend, nil)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestStore_LoadMissingSeeds(t *testing.T) {
	backend := NewMemoryBackend()
	s := loadedStore(t, backend)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "TEN-001", list[0].ID)
	assert.Equal(t, "TEN-001", s.ActiveTenantID())

	raw, err := backend.Get(context.Background(), KeyTenants)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"planId":"professional"`)
	active, err := backend.Get(context.Background(), KeyActiveTenant)
	require.NoError(t, err)
	assert.Equal(t, `"TEN-001"`, string(active))
}

func TestStore_LoadCorruptSeeds(t *testing.T) {
	for _, blob := range []string{"{not json", "null", `{"id":"x"}`} {
		backend := NewMemoryBackend()
		require.NoError(t, backend.Put(context.Background(), KeyTenants, []byte(blob)))

		s := loadedStore(t, backend)
		list := s.List()
		require.Len(t, list, 1, blob)
		assert.Equal(t, "TEN-001", list[0].ID)
	}
}

func TestStore_LoadEmptyCollection(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(context.Background(), KeyTenants, []byte("[]")))

	s := loadedStore(t, backend)
	assert.Empty(t, s.List())
	assert.Equal(t, "", s.ActiveTenantID())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestStore_LoadActiveFallsBackToFirst(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(ctx, KeyTenants, []byte(`[{"id":"A"},{"id":"B"}]`)))
	require.NoError(t, backend.Put(ctx, KeyActiveTenant, []byte(`"GONE"`)))

	s := loadedStore(t, backend)
	assert.Equal(t, "A", s.ActiveTenantID())

	require.NoError(t, backend.Put(ctx, KeyActiveTenant, []byte("B")))
	s = loadedStore(t, backend)
	assert.Equal(t, "B", s.ActiveTenantID())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "B", cur.ID)
}

type failingBackend struct {
	getErr error
	putErr error
	inner  *MemoryBackend
}

func (f *failingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inner.Get(ctx, key)
}

func (f *failingBackend) Put(ctx context.Context, key string, value []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.inner.Put(ctx, key, value)
}

func TestStore_LoadBackendErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	s := NewStore(&failingBackend{getErr: boom, inner: NewMemoryBackend()}, nil)
	err := s.Load(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStore_UpdateCopyOnWrite(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, NewMemoryBackend())

	before := s.List()
	got, err := s.Update(ctx, "TEN-001", AnyVersion, func(tn *Tenant) error {
		tn.SubscriptionStatus = StatusGrace
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusGrace, got.SubscriptionStatus)
	assert.Equal(t, before[0].Version+1, got.Version)

	// The earlier copy is untouched.
	assert.Equal(t, StatusActive, before[0].SubscriptionStatus)

	stored, err := s.Get("TEN-001")
	require.NoError(t, err)
	assert.Equal(t, StatusGrace, stored.SubscriptionStatus)
}

func TestStore_UpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, NewMemoryBackend())
	cur, _ := s.Get("TEN-001")

	_, err := s.Update(ctx, "TEN-001", cur.Version+5, func(tn *Tenant) error {
		tn.SubscriptionStatus = StatusExpired
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	after, _ := s.Get("TEN-001")
	assert.Equal(t, cur, after)

	_, err = s.Update(ctx, "TEN-001", cur.Version, func(tn *Tenant) error { return nil })
	assert.NoError(t, err)
}

func TestStore_UpdateFailuresLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fb := &failingBackend{inner: NewMemoryBackend()}
	s := loadedStore(t, fb)
	cur, _ := s.Get("TEN-001")

	fnErr := errors.New("rejected")
	_, err := s.Update(ctx, "TEN-001", AnyVersion, func(tn *Tenant) error {
		tn.PlanID = plans.Enterprise
		return fnErr
	})
	assert.ErrorIs(t, err, fnErr)

	fb.putErr = errors.New("write failed")
	_, err = s.Update(ctx, "TEN-001", AnyVersion, func(tn *Tenant) error {
		tn.PlanID = plans.Enterprise
		return nil
	})
	assert.Error(t, err)

	after, _ := s.Get("TEN-001")
	assert.Equal(t, cur, after)
}

func TestStore_UpdateUnknownTenant(t *testing.T) {
	s := loadedStore(t, NewMemoryBackend())
	_, err := s.Update(context.Background(), "NOPE", AnyVersion, func(*Tenant) error { return nil })
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = s.Get("NOPE")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestStore_AppendAndSwitch(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := loadedStore(t, backend)

	added, err := s.Append(ctx, Tenant{ID: "TEN-002", Slug: "kano"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added.Version)
	assert.Equal(t, "TEN-002", s.ActiveTenantID())

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "TEN-001", list[0].ID)
	assert.Equal(t, "TEN-002", list[1].ID)

	_, err = s.Append(ctx, Tenant{ID: "TEN-002"}, false)
	assert.Error(t, err)

	require.NoError(t, s.SetActiveTenantID(ctx, "TEN-001"))
	assert.Equal(t, "TEN-001", s.ActiveTenantID())
	assert.ErrorIs(t, s.SetActiveTenantID(ctx, "TEN-404"), ErrTenantNotFound)
	assert.Equal(t, "TEN-001", s.ActiveTenantID())

	// A fresh store over the same backend sees the persisted state.
	reloaded := loadedStore(t, backend)
	assert.Len(t, reloaded.List(), 2)
	assert.Equal(t, "TEN-001", reloaded.ActiveTenantID())
}

func TestStore_ListReturnsCopies(t *testing.T) {
	s := loadedStore(t, NewMemoryBackend())
	list := s.List()
	list[0].Profile.Name = "changed"
	again, _ := s.Get("TEN-001")
	assert.NotEqual(t, "changed", again.Profile.Name)
}
