package schema

import "fmt"

// FindMigrationPath returns the shortest sequence of migrations whose
// composition takes a value of (name, from) to (name, to). The search is a
// breadth-first walk over registered migrations, expanding only forward and
// never past the target version, so tie-breaks are deterministic for a given
// registration order.
func (r *Registry) FindMigrationPath(name string, from, to int) ([]Migration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.versions[name][from]; !ok {
		return nil, false
	}
	if _, ok := r.versions[name][to]; !ok {
		return nil, false
	}
	if from == to {
		return []Migration{}, true
	}
	if from > to {
		return nil, false
	}

	migrations := r.migrations[name]

	type node struct {
		version int
		path    []Migration
	}
	queue := []node{{version: from}}
	visited := map[int]bool{from: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, m := range migrations {
			next := m.ToVersion()
			if next <= cur.version || next > to || visited[next] {
				continue
			}
			if !applies(m, cur.version, next) {
				continue
			}
			path := append(append([]Migration(nil), cur.path...), m)
			if next == to {
				return path, true
			}
			visited[next] = true
			queue = append(queue, node{version: next, path: path})
		}
	}
	return nil, false
}

// Migrate applies the shortest migration path to value.
func (r *Registry) Migrate(name string, from, to int, value any) (any, error) {
	path, ok := r.FindMigrationPath(name, from, to)
	if !ok {
		return nil, fmt.Errorf("schema: no migration path from %s:v%d to %s:v%d", name, from, name, to)
	}
	out := value
	var err error
	for _, m := range path {
		out, err = m.Migrate(out)
		if err != nil {
			return nil, fmt.Errorf("schema: migration v%d->v%d failed: %w", m.FromVersion(), m.ToVersion(), err)
		}
	}
	return out, nil
}
