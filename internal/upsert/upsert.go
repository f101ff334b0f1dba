// Package upsert writes records into tables by natural key without ever
// creating duplicates. Proposed fields are projected onto the live table
// schema: unknown and computed properties are dropped, compatible kinds
// are converted, and null values are never written.
package upsert

import (
	"context"
	"sort"
	"sync"

	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// Outcome is what an upsert did.
type Outcome string

// Outcomes.
const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
	Deferred  Outcome = "deferred"
	Skipped   Outcome = "skipped"
)

// Decision is a gate's verdict on a proposed write.
type Decision struct {
	Fields   records.Fields // fields to write
	Deferred []string       // proposed fields held back
	Skip     bool           // write nothing
}

// Gate decides what to write given the current row, which is nil when the
// key has no row yet. proposed is already projected onto the schema; fields
// the gate adds are projected too.
type Gate func(current *records.Record, proposed records.Fields) Decision

// Request is one upsert.
type Request struct {
	TableID string
	Key     records.Field
	Fields  records.Fields
	Gate    Gate
}

// Result reports an upsert.
type Result struct {
	Outcome  Outcome
	RecordID string
	Dropped  []string
	Deferred []string
}

// Engine performs upserts. Table schemas are read once per engine, so an
// engine should live for one run.
type Engine struct {
	store store.Store

	mu      sync.Mutex
	schemas map[string]records.Schema
}

// New creates an upsert engine.
func New(st store.Store) *Engine {
	return &Engine{store: st, schemas: make(map[string]records.Schema)}
}

// Schema returns the table's schema, reading it on first use.
func (e *Engine) Schema(ctx context.Context, tableID string) (records.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[tableID]; ok {
		return s, nil
	}
	t, err := e.store.GetTableSchema(ctx, tableID)
	if err != nil {
		return nil, err
	}
	e.schemas[tableID] = t.Schema
	return t.Schema, nil
}

// Upsert finds the row whose key property equals req.Key and creates or
// updates it. More than one match is a DataIntegrityError and nothing is
// written. When every gated value already matches, nothing is written.
func (e *Engine) Upsert(ctx context.Context, req Request) (*Result, error) {
	if req.Key.IsNull() {
		return nil, errors.NewValidationError(req.Key.Name, req.Key.Text, "natural key is empty")
	}
	schema, err := e.Schema(ctx, req.TableID)
	if err != nil {
		return nil, err
	}

	proposed := req.Fields.Clone()
	proposed.Set(req.Key)
	fields, dropped := Project(schema, proposed)
	key, ok := fields[req.Key.Name]
	if !ok {
		return nil, errors.NewValidationError(req.Key.Name, req.Key.Text, "key property is not in table "+req.TableID)
	}

	current, err := e.FindOne(ctx, req.TableID, key)
	if err != nil {
		return nil, err
	}

	res := &Result{Dropped: dropped}
	decision := Decision{Fields: fields}
	if req.Gate != nil {
		decision = req.Gate(current, fields)
		decision.Fields, _ = Project(schema, decision.Fields)
		res.Deferred = decision.Deferred
	}
	log := logging.Ctx(ctx).With().Str("table", req.TableID).Str("key", key.Text).Logger()
	if len(dropped) > 0 {
		log.Debug().Strs("dropped", dropped).Msg("Dropped fields outside table schema")
	}

	switch {
	case decision.Skip:
		res.Outcome = Skipped
		if current != nil {
			res.RecordID = current.ID
		}
		return res, nil

	case current == nil:
		write := decision.Fields.Clone()
		write.Set(key)
		id, err := e.store.CreateRecord(ctx, req.TableID, write)
		if err != nil {
			return nil, err
		}
		res.Outcome, res.RecordID = Created, id
		log.Debug().Str("record", id).Msg("Created row")
		return res, nil
	}

	res.RecordID = current.ID
	if len(Diff(current.Fields, decision.Fields)) == 0 {
		res.Outcome = Unchanged
		if len(res.Deferred) > 0 {
			res.Outcome = Deferred
		}
		return res, nil
	}
	if err := e.store.UpdateRecord(ctx, current.ID, decision.Fields); err != nil {
		return nil, err
	}
	res.Outcome = Updated
	log.Debug().Str("record", current.ID).Msg("Updated row")
	return res, nil
}

// Find returns every row of the table whose key property equals key.
func (e *Engine) Find(ctx context.Context, tableID string, key records.Field) ([]records.Record, error) {
	return scan.Collect(scan.Records(ctx, e.store, tableID, records.Equals(key)))
}

// FindOne returns the single row matching key, or nil when there is none.
func (e *Engine) FindOne(ctx context.Context, tableID string, key records.Field) (*records.Record, error) {
	matches, err := e.Find(ctx, tableID, key)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		return nil, errors.NewDataIntegrityError(tableID, key.String(), len(matches))
	}
}

// Update writes fields onto rec after projecting them onto the table's
// schema. It reports whether a write happened.
func (e *Engine) Update(ctx context.Context, tableID string, rec *records.Record, fields records.Fields) (bool, error) {
	schema, err := e.Schema(ctx, tableID)
	if err != nil {
		return false, err
	}
	projected, _ := Project(schema, fields)
	if len(Diff(rec.Fields, projected)) == 0 {
		return false, nil
	}
	if err := e.store.UpdateRecord(ctx, rec.ID, projected); err != nil {
		return false, err
	}
	return true, nil
}

// Project restricts fields to the schema's writable properties, converting
// kinds where the value carries over. Null values are removed. It returns
// the projected fields and the sorted names of dropped non-null fields.
func Project(schema records.Schema, fields records.Fields) (records.Fields, []string) {
	out := make(records.Fields, len(fields))
	var dropped []string
	for name, f := range fields {
		if f.IsNull() {
			continue
		}
		p, ok := schema[name]
		if !ok || p.Kind.Computed() {
			dropped = append(dropped, name)
			continue
		}
		if f.Kind != p.Kind {
			converted, ok := f.Convert(p.Kind)
			if !ok {
				dropped = append(dropped, name)
				continue
			}
			f = converted
		}
		out[name] = f
	}
	sort.Strings(dropped)
	return out, dropped
}

// Diff returns the names of proposed fields whose value differs from current.
func Diff(current, proposed records.Fields) []string {
	var changed []string
	for name, f := range proposed {
		cur, ok := current[name]
		if !ok || !cur.Equal(f) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
