package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Persistence keys. They match the layout written by the browser shells so
// exported blobs can be loaded as-is.
const (
	KeyTenants      = "hms_tenants"
	KeyActiveTenant = "hms_active_tenant"
)

// AnyVersion disables the optimistic version check on Update.
const AnyVersion int64 = -1

var (
	// ErrKeyNotFound is returned by a Backend when nothing is stored under a key.
	ErrKeyNotFound = errors.New("tenant: key not found")
	// ErrUnreadableCollection is returned by Reload when the persisted
	// collection does not parse.
	ErrUnreadableCollection = errors.New("tenant: persisted collection unreadable")
)

// Backend is a minimal key/value persistence layer.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

type snapshot struct {
	tenants  []Tenant
	activeID string
}

// Store holds the tenant collection and the active tenant selection.
// Readers see an immutable snapshot; writers are serialised and persist the
// whole collection before the new snapshot becomes visible.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewStore creates a store over backend. Call Load before use.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{backend: backend, logger: logger}
	s.snap.Store(&snapshot{})
	return s
}

// Load reads the persisted collection. A missing or unparsable collection
// falls back to DefaultTenants; backend failures are returned.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants, seeded, err := s.readTenants(ctx)
	if err != nil {
		return err
	}

	storedActive, err := s.backend.Get(ctx, KeyActiveTenant)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("tenant: read %s: %w", KeyActiveTenant, err)
	}
	active := resolveActive(tenants, decodeActive(storedActive))

	if seeded {
		if err := s.writeTenants(ctx, tenants); err != nil {
			return err
		}
	}
	if active != "" && active != decodeActive(storedActive) {
		if err := s.writeActive(ctx, active); err != nil {
			return err
		}
	}

	s.snap.Store(&snapshot{tenants: tenants, activeID: active})
	s.logger.Info("tenant store loaded", "tenants", len(tenants), "active", active, "seeded", seeded)
	return nil
}

// Reload re-reads the persisted collection into a store that is already
// serving. Unlike Load it never seeds: when the collection is missing, empty
// or does not parse, the current snapshot is kept and an error is returned.
// Nothing is written back.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.backend.Get(ctx, KeyTenants)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return fmt.Errorf("tenant: reload %s: %w", KeyTenants, ErrNoTenants)
	case err != nil:
		return fmt.Errorf("tenant: read %s: %w", KeyTenants, err)
	}

	var tenants []Tenant
	if err := json.Unmarshal(raw, &tenants); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableCollection, err)
	}
	if len(tenants) == 0 {
		return fmt.Errorf("tenant: reload %s: %w", KeyTenants, ErrNoTenants)
	}

	storedActive, err := s.backend.Get(ctx, KeyActiveTenant)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("tenant: read %s: %w", KeyActiveTenant, err)
	}
	active := decodeActive(storedActive)
	if indexOf(tenants, active) < 0 {
		// Keep the current selection if it survived the edit.
		active = resolveActive(tenants, s.snap.Load().activeID)
	}

	s.snap.Store(&snapshot{tenants: tenants, activeID: active})
	s.logger.Info("tenant store reloaded", "tenants", len(tenants), "active", active)
	return nil
}

func (s *Store) readTenants(ctx context.Context) ([]Tenant, bool, error) {
	raw, err := s.backend.Get(ctx, KeyTenants)
	if errors.Is(err, ErrKeyNotFound) || (err == nil && len(raw) == 0) {
		s.logger.Warn("no persisted tenants, using default seed")
		return DefaultTenants(), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tenant: read %s: %w", KeyTenants, err)
	}

	var tenants []Tenant
	if err := json.Unmarshal(raw, &tenants); err != nil || tenants == nil {
		s.logger.Warn("persisted tenants unreadable, using default seed", "error", err)
		return DefaultTenants(), true, nil
	}
	return tenants, false, nil
}

// The active id is written as a JSON string but bare ids are tolerated.
func decodeActive(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	return string(raw)
}

func resolveActive(tenants []Tenant, stored string) string {
	if stored != "" && indexOf(tenants, stored) >= 0 {
		return stored
	}
	if len(tenants) > 0 {
		return tenants[0].ID
	}
	return ""
}

func indexOf(tenants []Tenant, id string) int {
	for i := range tenants {
		if tenants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) writeTenants(ctx context.Context, tenants []Tenant) error {
	b, err := json.Marshal(tenants)
	if err != nil {
		return fmt.Errorf("tenant: encode collection: %w", err)
	}
	if err := s.backend.Put(ctx, KeyTenants, b); err != nil {
		return fmt.Errorf("tenant: write %s: %w", KeyTenants, err)
	}
	return nil
}

func (s *Store) writeActive(ctx context.Context, id string) error {
	b, _ := json.Marshal(id)
	if err := s.backend.Put(ctx, KeyActiveTenant, b); err != nil {
		return fmt.Errorf("tenant: write %s: %w", KeyActiveTenant, err)
	}
	return nil
}

// List returns a copy of the collection in insertion order.
func (s *Store) List() []Tenant {
	cur := s.snap.Load()
	out := make([]Tenant, len(cur.tenants))
	copy(out, cur.tenants)
	return out
}

// Get returns a copy of the tenant with the given id.
func (s *Store) Get(id string) (Tenant, error) {
	cur := s.snap.Load()
	if i := indexOf(cur.tenants, id); i >= 0 {
		return cur.tenants[i], nil
	}
	return Tenant{}, ErrTenantNotFound
}

// ActiveTenantID returns the selected tenant id, or "" when the store is empty.
func (s *Store) ActiveTenantID() string {
	return s.snap.Load().activeID
}

// Current returns the active tenant, falling back to the first tenant.
func (s *Store) Current() (Tenant, bool) {
	cur := s.snap.Load()
	if i := indexOf(cur.tenants, cur.activeID); i >= 0 {
		return cur.tenants[i], true
	}
	if len(cur.tenants) > 0 {
		return cur.tenants[0], true
	}
	return Tenant{}, false
}

// SetActiveTenantID selects a tenant. The id must exist.
func (s *Store) SetActiveTenantID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if indexOf(cur.tenants, id) < 0 {
		return ErrTenantNotFound
	}
	if err := s.writeActive(ctx, id); err != nil {
		return err
	}
	s.snap.Store(&snapshot{tenants: cur.tenants, activeID: id})
	return nil
}

// Update applies fn to a copy of one tenant and replaces it in a new
// collection. If expectedVersion is not AnyVersion it must match the stored
// version. Nothing changes when fn or persistence fails.
func (s *Store) Update(ctx context.Context, id string, expectedVersion int64, fn func(*Tenant) error) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	i := indexOf(cur.tenants, id)
	if i < 0 {
		return Tenant{}, ErrTenantNotFound
	}
	if expectedVersion != AnyVersion && cur.tenants[i].Version != expectedVersion {
		return Tenant{}, fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, cur.tenants[i].Version, expectedVersion)
	}

	updated := cur.tenants[i]
	if err := fn(&updated); err != nil {
		return Tenant{}, err
	}
	updated.ID = id
	updated.Version = cur.tenants[i].Version + 1

	next := make([]Tenant, len(cur.tenants))
	copy(next, cur.tenants)
	next[i] = updated

	if err := s.writeTenants(ctx, next); err != nil {
		return Tenant{}, err
	}
	s.snap.Store(&snapshot{tenants: next, activeID: cur.activeID})
	return updated, nil
}

// Append adds a tenant at the end of the collection, optionally selecting it.
func (s *Store) Append(ctx context.Context, t Tenant, makeActive bool) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if indexOf(cur.tenants, t.ID) >= 0 {
		return Tenant{}, fmt.Errorf("tenant: duplicate id %q", t.ID)
	}
	t.Version = 1

	next := make([]Tenant, len(cur.tenants), len(cur.tenants)+1)
	copy(next, cur.tenants)
	next = append(next, t)

	if err := s.writeTenants(ctx, next); err != nil {
		return Tenant{}, err
	}
	active := cur.activeID
	if makeActive || active == "" {
		if err := s.writeActive(ctx, t.ID); err != nil {
			return Tenant{}, err
		}
		active = t.ID
	}
	s.snap.Store(&snapshot{tenants: next, activeID: active})
	return t, nil
}
