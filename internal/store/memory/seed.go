package memory

import (
	"github.com/google/uuid"

	"github.com/agentstation/mirrorsync/pkg/records"
)

// The helpers below set up and inspect state directly. They bypass
// validation, fault injection and write counters.

// NewContainer creates an empty top-level container (a page) and returns its id.
func (s *Store) NewContainer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.containers[id] = nil
	return id
}

// AddTable creates a table inside a container and returns its id.
func (s *Store) AddTable(containerID, title string, schema records.Schema) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isContainer(containerID) {
		s.containers[containerID] = nil
	}
	return s.addTable(containerID, title, schema)
}

// AddContent appends nodes to a container, assigning ids to nodes without one.
func (s *Store) AddContent(containerID string, nodes ...records.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		n = n.Clone()
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		s.containers[containerID] = append(s.containers[containerID], n)
	}
}

// Seed inserts a record without validating its fields, so computed values
// can be set. It panics on an unknown table.
func (s *Store) Seed(tableID string, fields ...records.Field) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		panic("memory: seed into unknown table " + tableID)
	}
	return s.insert(t, records.NewFields(fields...))
}

// Rows returns every record of a table in insertion order.
func (s *Store) Rows(tableID string) []records.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[tableID]
	if !ok {
		return nil
	}
	out := make([]records.Record, 0, len(t.rows))
	for _, id := range t.rows {
		out = append(out, s.view(s.rows[id]))
	}
	return out
}

// Children returns every direct child of a container.
func (s *Store) Children(containerID string) []records.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]records.Node, 0, len(s.containers[containerID]))
	for _, n := range s.containers[containerID] {
		out = append(out, n.Clone())
	}
	return out
}

// Tables returns the tables directly inside a container.
func (s *Store) Tables(containerID string) []records.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.Table
	for _, n := range s.containers[containerID] {
		if t, ok := s.tables[n.ID]; ok && n.IsTable() {
			out = append(out, records.Table{ID: t.ID, Title: t.Title, Schema: t.Schema.Clone()})
		}
	}
	return out
}
