// Package owners resolves owner references to mirror targets. A directory
// is created per run and is the single source of owner identity for it:
// each owner name maps to exactly one registry record and one mirror table.
package owners

import (
	"context"
	"iter"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/agentstation/mirrorsync/internal/lock"
	"github.com/agentstation/mirrorsync/internal/provision"
	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// Resolution steps, reported in OwnerResolutionError.Step.
const (
	StepDereference = "dereference"
	StepLock        = "lock"
	StepLookup      = "lookup"
	StepCreate      = "create"
	StepProvision   = "provision"
)

// Target is where an owner's rows go.
type Target struct {
	OwnerID       string // id of the reference the owner was reached by
	OwnerName     string
	ContainerID   string // the owner's registry record
	MirrorTableID string
}

// Resolution is a resolved target plus what resolving it created.
type Resolution struct {
	Target
	OwnerCreated      bool
	MirrorProvisioned bool
}

// Config names the registry and the mirror table.
type Config struct {
	RegistryID   string
	NameProperty string
	MirrorTitle  string
}

// Directory resolves and caches owners.
type Directory struct {
	store  store.Store
	prov   *provision.Provisioner
	cfg    Config
	locker lock.Locker
	keyed  lock.Keyed

	mu      sync.Mutex
	names   map[string]string
	targets map[string]Target
}

// Option configures a Directory.
type Option func(*Directory)

// WithLocker adds a cross-process lock around owner creation.
func WithLocker(l lock.Locker) Option {
	return func(d *Directory) {
		d.locker = l
	}
}

// New creates an empty directory.
func New(st store.Store, prov *provision.Provisioner, cfg Config, opts ...Option) *Directory {
	d := &Directory{
		store:   st,
		prov:    prov,
		cfg:     cfg,
		names:   make(map[string]string),
		targets: make(map[string]Target),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve maps an owner reference to its mirror target, creating the
// registry record and provisioning the mirror table when missing. Concurrent
// calls for the same owner name are serialized.
func (d *Directory) Resolve(ctx context.Context, ownerID string) (*Resolution, error) {
	name, err := d.dereference(ctx, ownerID)
	if err != nil {
		return nil, errors.NewOwnerResolutionError(ownerID, "", StepDereference, err)
	}
	key := norm.NFC.String(name)
	if t, ok := d.cached(key); ok {
		t.OwnerID = ownerID
		return &Resolution{Target: t}, nil
	}

	unlock := d.keyed.Lock(key)
	defer unlock()
	if t, ok := d.cached(key); ok {
		t.OwnerID = ownerID
		return &Resolution{Target: t}, nil
	}

	if d.locker != nil {
		release, err := d.locker.Obtain(ctx, key)
		if err != nil {
			return nil, errors.NewOwnerResolutionError(ownerID, name, StepLock, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("owner", name).Msg("Failed to release owner lock")
			}
		}()
	}

	log := logging.Ctx(ctx).With().Str("owner", name).Logger()
	res := &Resolution{Target: Target{OwnerID: ownerID, OwnerName: name}}

	existing, err := scan.Collect(scan.Records(ctx, d.store, d.cfg.RegistryID, records.Equals(records.Title(d.cfg.NameProperty, name))))
	if err != nil {
		return nil, errors.NewOwnerResolutionError(ownerID, name, StepLookup, err)
	}
	switch len(existing) {
	case 0:
		id, err := d.store.CreateRecord(ctx, d.cfg.RegistryID, records.NewFields(records.Title(d.cfg.NameProperty, name)))
		if err != nil {
			return nil, errors.NewOwnerResolutionError(ownerID, name, StepCreate, err)
		}
		res.ContainerID, res.OwnerCreated = id, true
		log.Info().Str("record", id).Msg("Created owner record")
	case 1:
		res.ContainerID = existing[0].ID
	default:
		res.ContainerID = existing[0].ID
		log.Warn().Int("matches", len(existing)).Msg("Owner registry has duplicate names, using the first")
	}

	tableID, created, err := d.prov.EnsureMirrorTable(ctx, res.ContainerID, d.cfg.MirrorTitle)
	if err != nil {
		return nil, errors.NewOwnerResolutionError(ownerID, name, StepProvision, err)
	}
	res.MirrorTableID, res.MirrorProvisioned = tableID, created

	d.mu.Lock()
	d.targets[key] = res.Target
	d.mu.Unlock()
	return res, nil
}

// dereference reads the owner's name from the referenced record's title,
// once per owner id.
func (d *Directory) dereference(ctx context.Context, ownerID string) (string, error) {
	d.mu.Lock()
	name, ok := d.names[ownerID]
	d.mu.Unlock()
	if ok {
		return name, nil
	}

	rec, err := d.store.GetRecord(ctx, ownerID)
	if err != nil {
		return "", err
	}
	title, ok := rec.Fields.Title()
	if !ok || title.Text == "" {
		return "", errors.NewValidationError("title", ownerID, "owner record has no name")
	}

	d.mu.Lock()
	d.names[ownerID] = title.Text
	d.mu.Unlock()
	return title.Text, nil
}

func (d *Directory) cached(key string) (Target, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[key]
	return t, ok
}

// Len returns the number of resolved owners.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

// Existing iterates the owners already in the registry together with their
// mirror table, without creating anything. Owners without a mirror table are
// yielded with an empty MirrorTableID. A registry page failure is yielded as
// a *scan.PageError and ends the sequence; a failed table lookup is yielded
// as an OwnerResolutionError for that owner only.
func (d *Directory) Existing(ctx context.Context) iter.Seq2[Target, error] {
	return func(yield func(Target, error) bool) {
		for rec, err := range scan.Records(ctx, d.store, d.cfg.RegistryID, nil) {
			if err != nil {
				yield(Target{}, err)
				return
			}
			t := Target{
				OwnerID:     rec.ID,
				OwnerName:   rec.Fields.TextOf(d.cfg.NameProperty),
				ContainerID: rec.ID,
			}
			id, ok, err := d.prov.FindTable(ctx, rec.ID, d.cfg.MirrorTitle)
			if err != nil {
				if !yield(t, errors.NewOwnerResolutionError(rec.ID, t.OwnerName, StepLookup, err)) {
					return
				}
				continue
			}
			if ok {
				t.MirrorTableID = id
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}
