// Package mirrorsync replicates project records from a master table into one
// mirror table per project owner, and pushes owner edits of selected fields
// back into master.
//
// An Engine runs three passes:
//
//   - Forward scans master and upserts every record into the mirror table of
//     each of its owners, creating owners and mirror tables on demand.
//   - Reverse scans every owner's mirror table and pushes owner-edited
//     values back into master, then re-tags the mirror row as system-written.
//   - Reprovision adds template properties missing from existing mirrors.
//
// Example:
//
//	eng, err := mirrorsync.New(st, mirrorsync.Tables{
//		Master:   os.Getenv("PROJECTS_DB"),
//		Registry: os.Getenv("MANAGERS_DB"),
//		Template: os.Getenv("TEMPLATE_PAGE_ID"),
//	})
//	if err != nil {
//		return err
//	}
//	result, err := eng.Forward(ctx, run.WithWorkers(4))
package mirrorsync

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentstation/mirrorsync/internal/governor"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/store"
)

const tracerName = "github.com/agentstation/mirrorsync"

// Tables identifies the fixed store objects the engine works with.
type Tables struct {
	Master   string // table holding the authoritative project records
	Registry string // table listing owners, one record per owner
	Template string // container whose content seeds each owner's container
}

func (t Tables) missing() []string {
	var missing []string
	if t.Master == "" {
		missing = append(missing, "master")
	}
	if t.Registry == "" {
		missing = append(missing, "registry")
	}
	if t.Template == "" {
		missing = append(missing, "template")
	}
	return missing
}

// Engine replicates master records into owner mirrors.
type Engine struct {
	store  store.Store
	tables Tables
	cfg    *config
	gov    *governor.Governor
	hooks  *hooks
	tracer trace.Tracer
}

// New creates an engine over st.
func New(st store.Store, tables Tables, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.NewConfigurationError("engine", "record store is required", nil)
	}
	if missing := tables.missing(); len(missing) > 0 {
		return nil, &errors.ConfigurationError{Component: "engine", Missing: missing}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.registryName == "" || cfg.mirrorTitle == "" {
		return nil, errors.NewConfigurationError("engine", "registry name property and mirror title are required", nil)
	}

	gov, err := governor.New(cfg.tag)
	if err != nil {
		return nil, err
	}
	if gov.Policy() == governor.Overwrite {
		logging.Warn().Msg("Overwrite policy selected, owner edits of forward fields will be overwritten")
	}

	return &Engine{
		store:  st,
		tables: tables,
		cfg:    cfg,
		gov:    gov,
		hooks:  newHooks(),
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Mapping returns the property mapping in use.
func (e *Engine) Mapping() Mapping {
	return e.cfg.mapping
}

// OnOwnerCreated registers a callback fired when an owner record is created.
func (e *Engine) OnOwnerCreated(fn OwnerCreatedHook) {
	e.hooks.OnOwnerCreated(fn)
}

// OnMirrorProvisioned registers a callback fired when a mirror table is created.
func (e *Engine) OnMirrorProvisioned(fn MirrorProvisionedHook) {
	e.hooks.OnMirrorProvisioned(fn)
}

// OnRowWritten registers a callback fired when a pass creates or updates a row.
func (e *Engine) OnRowWritten(fn RowWrittenHook) {
	e.hooks.OnRowWritten(fn)
}
