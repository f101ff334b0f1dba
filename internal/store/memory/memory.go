// Package memory provides a concurrency-safe in-memory record store with
// configurable page size, write counters and fault injection.
package memory

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// DefaultPageSize matches the largest page the Notion API returns.
const DefaultPageSize = 100

// Op names a store operation for fault injection.
type Op string

// Store operations.
const (
	OpQuery             Op = "query"
	OpCreateRecord      Op = "create_record"
	OpUpdateRecord      Op = "update_record"
	OpGetRecord         Op = "get_record"
	OpListChildren      Op = "list_children"
	OpCreateTable       Op = "create_table"
	OpGetTableSchema    Op = "get_table_schema"
	OpAppendContent     Op = "append_content"
	OpUpdateTableSchema Op = "update_table_schema"
)

// Fault is consulted before every operation. A non-nil return fails the call.
// target is the table, record or container id the call addresses.
type Fault func(op Op, target string) error

// Counts tallies successful writes.
type Counts struct {
	Creates       int
	Updates       int
	Tables        int
	Appends       int
	SchemaUpdates int
}

// Total returns the number of writes of any kind.
func (c Counts) Total() int {
	return c.Creates + c.Updates + c.Tables + c.Appends + c.SchemaUpdates
}

type row struct {
	id        string
	table     string
	fields    records.Fields
	createdAt utc.Time
	updatedAt utc.Time
}

type table struct {
	records.Table
	container string
	rows      []string
}

// Store is an in-memory store.Store.
type Store struct {
	mu         sync.RWMutex
	pageSize   int
	rows       map[string]*row
	tables     map[string]*table
	containers map[string][]records.Node
	counts     Counts
	fault      Fault
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.SchemaUpdater = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the number of items returned per page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithFault installs a fault function.
func WithFault(f Fault) Option {
	return func(s *Store) {
		s.fault = f
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		pageSize:   DefaultPageSize,
		rows:       make(map[string]*row),
		tables:     make(map[string]*table),
		containers: make(map[string][]records.Node),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the fault function. Nil clears it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Writes returns the write counters.
func (s *Store) Writes() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// ResetWrites zeroes the write counters.
func (s *Store) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = Counts{}
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, tableID string, filter *records.Filter, cursor string) (*records.QueryPage, error) {
	if err := s.check(ctx, OpQuery, tableID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[tableID]
	if !ok {
		return nil, notFound(OpQuery, tableID)
	}
	offset, err := parseCursor(OpQuery, tableID, cursor)
	if err != nil {
		return nil, err
	}

	var matched []records.Record
	for _, id := range t.rows {
		rec := s.view(s.rows[id])
		if filter.Matches(rec.Fields) {
			matched = append(matched, rec)
		}
	}
	page := &records.QueryPage{}
	page.Records, page.HasMore, page.NextCursor = paginate(matched, offset, s.pageSize)
	return page, nil
}

// CreateRecord implements store.Store.
func (s *Store) CreateRecord(ctx context.Context, tableID string, fields records.Fields) (string, error) {
	if err := s.check(ctx, OpCreateRecord, tableID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		return "", notFound(OpCreateRecord, tableID)
	}
	if err := validate(OpCreateRecord, tableID, t.Schema, fields); err != nil {
		return "", err
	}
	id := s.insert(t, fields)
	s.counts.Creates++
	return id, nil
}

// UpdateRecord implements store.Store.
func (s *Store) UpdateRecord(ctx context.Context, recordID string, fields records.Fields) error {
	if err := s.check(ctx, OpUpdateRecord, recordID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[recordID]
	if !ok {
		return notFound(OpUpdateRecord, recordID)
	}
	if err := validate(OpUpdateRecord, recordID, s.tables[r.table].Schema, fields); err != nil {
		return err
	}
	for _, f := range fields.Clone() {
		r.fields[f.Name] = f
	}
	r.updatedAt = utc.Now()
	s.counts.Updates++
	return nil
}

// GetRecord implements store.Store.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*records.Record, error) {
	if err := s.check(ctx, OpGetRecord, recordID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[recordID]
	if !ok {
		return nil, notFound(OpGetRecord, recordID)
	}
	rec := s.view(r)
	return &rec, nil
}

// ListChildren implements store.Store.
func (s *Store) ListChildren(ctx context.Context, containerID string, cursor string) (*records.ChildrenPage, error) {
	if err := s.check(ctx, OpListChildren, containerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isContainer(containerID) {
		return nil, notFound(OpListChildren, containerID)
	}
	offset, err := parseCursor(OpListChildren, containerID, cursor)
	if err != nil {
		return nil, err
	}
	children := make([]records.Node, 0, len(s.containers[containerID]))
	for _, n := range s.containers[containerID] {
		children = append(children, n.Clone())
	}
	page := &records.ChildrenPage{}
	page.Children, page.HasMore, page.NextCursor = paginate(children, offset, s.pageSize)
	return page, nil
}

// CreateTable implements store.Store.
func (s *Store) CreateTable(ctx context.Context, containerID, title string, schema records.Schema) (string, error) {
	if err := s.check(ctx, OpCreateTable, containerID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isContainer(containerID) {
		return "", notFound(OpCreateTable, containerID)
	}
	if _, ok := schema.TitleProperty(); !ok {
		return "", invalid(OpCreateTable, containerID, "schema has no title property")
	}
	id := s.addTable(containerID, title, schema)
	s.counts.Tables++
	return id, nil
}

// GetTableSchema implements store.Store.
func (s *Store) GetTableSchema(ctx context.Context, tableID string) (*records.Table, error) {
	if err := s.check(ctx, OpGetTableSchema, tableID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[tableID]
	if !ok {
		return nil, notFound(OpGetTableSchema, tableID)
	}
	return &records.Table{ID: t.ID, Title: t.Title, Schema: t.Schema.Clone()}, nil
}

// AppendContent implements store.Store.
func (s *Store) AppendContent(ctx context.Context, containerID string, nodes []records.Node) error {
	if err := s.check(ctx, OpAppendContent, containerID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isContainer(containerID) {
		return notFound(OpAppendContent, containerID)
	}
	for _, n := range nodes {
		if n.IsTable() {
			return invalid(OpAppendContent, containerID, "tables cannot be appended as content")
		}
	}
	for _, n := range nodes {
		n = n.Clone()
		n.ID = uuid.NewString()
		s.containers[containerID] = append(s.containers[containerID], n)
	}
	s.counts.Appends++
	return nil
}

// UpdateTableSchema implements store.SchemaUpdater. Properties are added or
// replaced; none are removed.
func (s *Store) UpdateTableSchema(ctx context.Context, tableID string, schema records.Schema) error {
	if err := s.check(ctx, OpUpdateTableSchema, tableID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		return notFound(OpUpdateTableSchema, tableID)
	}
	for name, p := range schema.Clone() {
		t.Schema[name] = p
	}
	s.counts.SchemaUpdates++
	return nil
}

// check runs the fault hook and honors context cancellation.
func (s *Store) check(ctx context.Context, op Op, target string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewTransportError(string(op), target, err)
	}
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault == nil {
		return nil
	}
	if err := fault(op, target); err != nil {
		return errors.WrapTransport(string(op), target, err)
	}
	return nil
}

func (s *Store) isContainer(id string) bool {
	if _, ok := s.containers[id]; ok {
		return true
	}
	_, ok := s.rows[id]
	return ok
}

func (s *Store) insert(t *table, fields records.Fields) string {
	now := utc.Now()
	r := &row{
		id:        uuid.NewString(),
		table:     t.ID,
		fields:    fields.Clone(),
		createdAt: now,
		updatedAt: now,
	}
	s.rows[r.id] = r
	t.rows = append(t.rows, r.id)
	return r.id
}

func (s *Store) addTable(containerID, title string, schema records.Schema) string {
	id := uuid.NewString()
	s.tables[id] = &table{
		Table:     records.Table{ID: id, Title: title, Schema: schema.Clone()},
		container: containerID,
	}
	s.containers[containerID] = append(s.containers[containerID], records.Node{
		ID:    id,
		Type:  records.NodeTable,
		Title: title,
	})
	return id
}

// view returns a detached copy of a row with timestamp properties filled.
func (s *Store) view(r *row) records.Record {
	fields := r.fields.Clone()
	for name, p := range s.tables[r.table].Schema {
		switch p.Kind {
		case records.KindCreatedTime:
			fields[name] = records.Field{Name: name, Kind: p.Kind, Text: r.createdAt.Format(time.RFC3339)}
		case records.KindLastEditedTime:
			fields[name] = records.Field{Name: name, Kind: p.Kind, Text: r.updatedAt.Format(time.RFC3339)}
		}
	}
	return records.Record{ID: r.id, Fields: fields}
}

// validate rejects writes to unknown or computed properties, as the Notion
// API does.
func validate(op Op, target string, schema records.Schema, fields records.Fields) error {
	for name, f := range fields {
		p, ok := schema[name]
		if !ok {
			return invalid(op, target, name+" is not a property that exists")
		}
		if p.Kind.Computed() {
			return invalid(op, target, name+" is a computed property")
		}
		if p.Kind != f.Kind {
			return invalid(op, target, name+" is expected to be "+string(p.Kind))
		}
	}
	return nil
}

func paginate[T any](items []T, offset, size int) ([]T, bool, string) {
	if offset >= len(items) {
		return nil, false, ""
	}
	end := min(offset+size, len(items))
	if end < len(items) {
		return items[offset:end], true, strconv.Itoa(end)
	}
	return items[offset:end], false, ""
}

func parseCursor(op Op, target, cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, invalid(op, target, "invalid start_cursor")
	}
	return n, nil
}

func notFound(op Op, target string) error {
	return &errors.TransportError{
		Operation:  string(op),
		Target:     target,
		StatusCode: http.StatusNotFound,
		Code:       "object_not_found",
		Message:    "could not find " + target,
	}
}

func invalid(op Op, target, msg string) error {
	return &errors.TransportError{
		Operation:  string(op),
		Target:     target,
		StatusCode: http.StatusBadRequest,
		Code:       "validation_error",
		Message:    msg,
	}
}
