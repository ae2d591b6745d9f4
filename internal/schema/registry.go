// Package schema tracks versioned payload types and the migrations between
// them, and solves for the shortest migration path on demand.
package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Version binds a schema name and version number to a concrete payload type.
// Equality is by (name, version).
type Version struct {
	Name        string
	Version     int
	PayloadType reflect.Type
}

// NewVersion derives a Version from a payload prototype.
func NewVersion(name string, version int, payload any) (Version, error) {
	if name == "" {
		return Version{}, fmt.Errorf("schema: name must not be blank")
	}
	if version < 1 {
		return Version{}, fmt.Errorf("schema: version must be >= 1, got %d", version)
	}
	if payload == nil {
		return Version{}, fmt.Errorf("schema: payload prototype must not be nil")
	}
	return Version{Name: name, Version: version, PayloadType: reflect.TypeOf(payload)}, nil
}

// Key renders "{name}:v{version}".
func (v Version) Key() string { return fmt.Sprintf("%s:v%d", v.Name, v.Version) }

// Migration transforms a payload from one version of a schema to another.
type Migration interface {
	FromVersion() int
	ToVersion() int
	Migrate(source any) (any, error)
}

// Applicable is optionally implemented by migrations that serve more than an
// exact (from, to) pair. The default is exact equality on both endpoints.
type Applicable interface {
	IsApplicable(from, to int) bool
}

// Func adapts a function into a Migration.
type Func struct {
	From int
	To   int
	Fn   func(source any) (any, error)
}

func (m Func) FromVersion() int                { return m.From }
func (m Func) ToVersion() int                  { return m.To }
func (m Func) Migrate(source any) (any, error) { return m.Fn(source) }

func applies(m Migration, from, to int) bool {
	if a, ok := m.(Applicable); ok {
		return a.IsApplicable(from, to)
	}
	return m.FromVersion() == from && m.ToVersion() == to
}

// Registry is a concurrent registry of schema versions and migrations.
type Registry struct {
	mu         sync.RWMutex
	versions   map[string]map[int]Version
	migrations map[string][]Migration // in registration order
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		versions:   make(map[string]map[int]Version),
		migrations: make(map[string][]Migration),
	}
}

// Register records a schema version. Re-registering the same (name, version)
// with the same payload type is a no-op; with a different type it fails.
func (r *Registry) Register(v Version) error {
	if v.Name == "" || v.Version < 1 || v.PayloadType == nil {
		return fmt.Errorf("schema: incomplete version %+v", v)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion, ok := r.versions[v.Name]
	if !ok {
		byVersion = make(map[int]Version)
		r.versions[v.Name] = byVersion
	}
	if existing, ok := byVersion[v.Version]; ok {
		if existing.PayloadType == v.PayloadType {
			return nil
		}
		return fmt.Errorf("schema: %s already registered with payload type %s, refusing %s",
			v.Key(), existing.PayloadType, v.PayloadType)
	}
	byVersion[v.Version] = v
	return nil
}

// RegisterMigration records a migration for name. Both endpoints must
// already be registered.
func (r *Registry) RegisterMigration(name string, m Migration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion := r.versions[name]
	if _, ok := byVersion[m.FromVersion()]; !ok {
		return fmt.Errorf("schema: migration source %s:v%d is not registered", name, m.FromVersion())
	}
	if _, ok := byVersion[m.ToVersion()]; !ok {
		return fmt.Errorf("schema: migration target %s:v%d is not registered", name, m.ToVersion())
	}
	r.migrations[name] = append(r.migrations[name], m)
	return nil
}

// GetVersion looks up one schema version.
func (r *Registry) GetVersion(name string, version int) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[name][version]
	return v, ok
}

// GetLatestVersion returns the highest registered version of name.
func (r *Registry) GetLatestVersion(name string) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Version
	var found bool
	for _, v := range r.versions[name] {
		if !found || v.Version > best.Version {
			best = v
			found = true
		}
	}
	return best, found
}

// GetAllVersions returns every version of name in ascending version order.
func (r *Registry) GetAllVersions(name string) []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, 0, len(r.versions[name]))
	for _, v := range r.versions[name] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// IsVersionRegistered reports whether (name, version) is known.
func (r *Registry) IsVersionRegistered(name string, version int) bool {
	_, ok := r.GetVersion(name, version)
	return ok
}

// Names returns all registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for name := range r.versions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsCompatible reports whether a value of (name, from) can be read as
// (name, to): both versions registered and either equal or connected by a
// migration path.
func (r *Registry) IsCompatible(name string, from, to int) bool {
	if !r.IsVersionRegistered(name, from) || !r.IsVersionRegistered(name, to) {
		return false
	}
	if from == to {
		return true
	}
	path, ok := r.FindMigrationPath(name, from, to)
	return ok && len(path) > 0
}
