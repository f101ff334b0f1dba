package mirrorsync

import (
	"sync"

	"github.com/agentstation/mirrorsync/internal/owners"
	"github.com/agentstation/mirrorsync/internal/upsert"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// Owner describes a resolved owner.
type Owner struct {
	ID            string // registry record id, also the owner's container
	Name          string
	MirrorTableID string
}

// RowEvent describes a row write.
type RowEvent struct {
	Pass     run.Pass
	TableID  string
	RecordID string
	Key      string
	Outcome  upsert.Outcome
}

// Hook function types for engine events
type (
	// OwnerCreatedHook is called when an owner record is created in the registry
	OwnerCreatedHook func(owner Owner)

	// MirrorProvisionedHook is called when a mirror table is created
	MirrorProvisionedHook func(owner Owner)

	// RowWrittenHook is called when a row is created or updated
	RowWrittenHook func(event RowEvent)
)

// hooks manages event callbacks. Callbacks may run concurrently when a pass
// uses several workers.
type hooks struct {
	mu                  sync.RWMutex
	onOwnerCreated      []OwnerCreatedHook
	onMirrorProvisioned []MirrorProvisionedHook
	onRowWritten        []RowWrittenHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnOwnerCreated registers a callback for when owners are created
func (h *hooks) OnOwnerCreated(fn OwnerCreatedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOwnerCreated = append(h.onOwnerCreated, fn)
}

// OnMirrorProvisioned registers a callback for when mirror tables are created
func (h *hooks) OnMirrorProvisioned(fn MirrorProvisionedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMirrorProvisioned = append(h.onMirrorProvisioned, fn)
}

// OnRowWritten registers a callback for when rows are written
func (h *hooks) OnRowWritten(fn RowWrittenHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRowWritten = append(h.onRowWritten, fn)
}

// triggerResolution fires owner hooks for what a resolution created
func (h *hooks) triggerResolution(res *owners.Resolution) {
	if !res.OwnerCreated && !res.MirrorProvisioned {
		return
	}
	owner := Owner{ID: res.ContainerID, Name: res.OwnerName, MirrorTableID: res.MirrorTableID}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if res.OwnerCreated {
		for _, hook := range h.onOwnerCreated {
			hook(owner)
		}
	}
	if res.MirrorProvisioned {
		for _, hook := range h.onMirrorProvisioned {
			hook(owner)
		}
	}
}

// triggerRowWritten fires row hooks
func (h *hooks) triggerRowWritten(event RowEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hook := range h.onRowWritten {
		hook(event)
	}
}
