// Package provision creates mirror tables inside owner containers from a
// template container. A table is found by display name among a container's
// direct children; an existing one is never modified except by Reprovision.
package provision

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

// Provisioner ensures mirror tables exist.
type Provisioner struct {
	store       store.Store
	templateID  string
	copyContent bool

	mu        sync.Mutex
	templates map[string]*records.Table
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithContentCopy controls whether a fresh owner container receives the
// template container's whole content, or only the mirror table.
func WithContentCopy(enabled bool) Option {
	return func(p *Provisioner) {
		p.copyContent = enabled
	}
}

// New creates a provisioner for the given template container.
func New(st store.Store, templateContainerID string, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:       st,
		templateID:  templateContainerID,
		copyContent: true,
		templates:   make(map[string]*records.Table),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindTable looks up a direct child table of containerID by title.
func (p *Provisioner) FindTable(ctx context.Context, containerID, title string) (string, bool, error) {
	for n, err := range scan.Children(ctx, p.store, containerID) {
		if err != nil {
			return "", false, err
		}
		if n.IsTable() && n.Title == title {
			return n.ID, true, nil
		}
	}
	return "", false, nil
}

// EnsureMirrorTable returns the id of the table named title inside the owner
// container, creating it from the template when missing. created reports
// whether anything was written.
//
// An empty owner container receives a copy of the template content when
// content copying is enabled; otherwise only the table is created.
func (p *Provisioner) EnsureMirrorTable(ctx context.Context, ownerContainerID, title string) (tableID string, created bool, err error) {
	children, err := scan.Collect(scan.Children(ctx, p.store, ownerContainerID))
	if err != nil {
		return "", false, errors.NewProvisionError(ownerContainerID, title, "list owner container", err)
	}
	for _, n := range children {
		if n.IsTable() && n.Title == title {
			return n.ID, false, nil
		}
	}

	tmpl, err := p.template(ctx, title)
	if err != nil {
		return "", false, err
	}

	log := logging.Ctx(ctx).With().Str("container", ownerContainerID).Str("table", title).Logger()
	if p.copyContent && len(children) == 0 {
		tableID, err = p.copyTemplate(ctx, ownerContainerID, title)
		if err != nil {
			return "", false, err
		}
		log.Info().Str("table_id", tableID).Msg("Copied template into owner container")
		return tableID, true, nil
	}

	tableID, err = p.store.CreateTable(ctx, ownerContainerID, title, tmpl.Schema.Writable())
	if err != nil {
		return "", false, errors.NewProvisionError(ownerContainerID, title, "create table", err)
	}
	log.Info().Str("table_id", tableID).Msg("Provisioned mirror table")
	return tableID, true, nil
}

// template returns the template table named title, cached for the
// provisioner's lifetime.
func (p *Provisioner) template(ctx context.Context, title string) (*records.Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.templates[title]; ok {
		return t, nil
	}

	id, ok, err := p.FindTable(ctx, p.templateID, title)
	if err != nil {
		return nil, errors.NewProvisionError(p.templateID, title, "list template container", err)
	}
	if !ok {
		return nil, errors.NewProvisionError(p.templateID, title, "template table not found", nil)
	}
	t, err := p.store.GetTableSchema(ctx, id)
	if err != nil {
		return nil, errors.NewProvisionError(p.templateID, title, "read template schema", err)
	}
	p.templates[title] = t
	return t, nil
}

// copyTemplate replicates the template container into dst. Plain nodes are
// batched and flushed before each nested table so relative order holds.
// Nested tables are created from their writable schema; rows are not copied.
func (p *Provisioner) copyTemplate(ctx context.Context, dst, mirrorTitle string) (string, error) {
	log := logging.Ctx(ctx)
	var (
		batch    []records.Node
		mirrorID string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.store.AppendContent(ctx, dst, batch); err != nil {
			return errors.NewProvisionError(dst, mirrorTitle, "append template content", err)
		}
		batch = nil
		return nil
	}

	for n, err := range scan.Children(ctx, p.store, p.templateID) {
		if err != nil {
			return "", errors.NewProvisionError(p.templateID, mirrorTitle, "list template container", err)
		}
		if !n.Copyable() {
			log.Debug().Str("type", string(n.Type)).Str("node", n.ID).Msg("Skipping non-copyable template node")
			continue
		}
		if !n.IsTable() {
			batch = append(batch, n.Detached())
			continue
		}

		if err := flush(); err != nil {
			return "", err
		}
		t, err := p.store.GetTableSchema(ctx, n.ID)
		if err != nil {
			return "", errors.NewProvisionError(p.templateID, n.Title, "read template schema", err)
		}
		id, err := p.store.CreateTable(ctx, dst, n.Title, t.Schema.Writable())
		if err != nil {
			return "", errors.NewProvisionError(dst, n.Title, "create table", err)
		}
		if n.Title == mirrorTitle && mirrorID == "" {
			mirrorID = id
		}
	}
	if err := flush(); err != nil {
		return "", err
	}
	if mirrorID == "" {
		return "", errors.NewProvisionError(dst, mirrorTitle, "table missing after template copy", nil)
	}
	return mirrorID, nil
}

// Reprovision adds template properties missing from an existing mirror
// table. Properties are never removed or retyped. It returns the names
// of the added properties.
func (p *Provisioner) Reprovision(ctx context.Context, tableID, title string) ([]string, error) {
	tmpl, err := p.template(ctx, title)
	if err != nil {
		return nil, err
	}
	current, err := p.store.GetTableSchema(ctx, tableID)
	if err != nil {
		return nil, errors.NewProvisionError(tableID, title, "read mirror schema", err)
	}

	missing := current.Schema.Missing(tmpl.Schema.Writable())
	if len(missing) == 0 {
		return nil, nil
	}
	updater, ok := p.store.(store.SchemaUpdater)
	if !ok {
		return nil, errors.NewProvisionError(tableID, title, "store cannot update schemas", errors.ErrNotSupported)
	}
	if err := updater.UpdateTableSchema(ctx, tableID, missing); err != nil {
		return nil, errors.NewProvisionError(tableID, title, "update schema", err)
	}

	added := make([]string, 0, len(missing))
	for name := range missing {
		added = append(added, name)
	}
	sort.Strings(added)
	logging.Ctx(ctx).Info().Str("table_id", tableID).Strs("added", added).Msg("Re-provisioned mirror table")
	return added, nil
}

// EnsureChildTable returns the id of the table named title inside
// containerID, creating it with schema when missing.
func (p *Provisioner) EnsureChildTable(ctx context.Context, containerID, title string, schema records.Schema) (string, bool, error) {
	id, ok, err := p.FindTable(ctx, containerID, title)
	if err != nil {
		return "", false, errors.NewProvisionError(containerID, title, "list container", err)
	}
	if ok {
		return id, false, nil
	}
	id, err = p.store.CreateTable(ctx, containerID, title, schema.Writable())
	if err != nil {
		return "", false, errors.NewProvisionError(containerID, title, "create table", err)
	}
	logging.Ctx(ctx).Debug().Str("container", containerID).Str("table", title).Msg("Created sub-table")
	return id, true, nil
}
