// Package governor decides which side of a master/mirror pair wins a write.
// Every mirror row carries a source tag naming who wrote it last: the system
// (forward pass) or the owner (a human edit in the mirror). Decisions are
// pure functions of the tag and the values involved.
package governor

import (
	"slices"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
)

// Policy selects the decision rule.
type Policy string

// Policies.
const (
	// Tagged honors the source tag. It is the default.
	Tagged Policy = "tagged"
	// Overwrite ignores the tag: forward always writes, reverse always pushes.
	Overwrite Policy = "overwrite"
)

// Source is the interpreted value of a row's source tag.
type Source string

// Sources.
const (
	SourceNone   Source = ""
	SourceSystem Source = "system"
	SourceOwner  Source = "owner"
)

// Action is what a plan asks for.
type Action string

// Actions.
const (
	Write Action = "write"
	Push  Action = "push"
	Flip  Action = "flip" // re-tag only, master untouched
	Skip  Action = "skip"
)

// Plan is a governor decision.
type Plan struct {
	Action   Action
	Fields   records.Fields
	Deferred []string
	Reason   string
}

// Config holds the tag settings.
type Config struct {
	TagProperty   string
	SystemLabel   string
	OwnerLabel    string
	ReverseFields []string
	Policy        Policy
}

// Governor applies a policy.
type Governor struct {
	cfg Config
}

// New creates a governor. Labels must be set and distinct.
func New(cfg Config) (*Governor, error) {
	switch {
	case cfg.TagProperty == "":
		return nil, errors.NewConfigurationError("governor", "tag property is required", nil)
	case cfg.SystemLabel == "" || cfg.OwnerLabel == "":
		return nil, errors.NewConfigurationError("governor", "system and owner labels are required", nil)
	case cfg.SystemLabel == cfg.OwnerLabel:
		return nil, errors.NewConfigurationError("governor", "system and owner labels must differ", nil)
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = Tagged
	case Tagged, Overwrite:
	default:
		return nil, errors.NewConfigurationError("governor", "unknown policy "+string(cfg.Policy), nil)
	}
	return &Governor{cfg: cfg}, nil
}

// Policy returns the active policy.
func (g *Governor) Policy() Policy {
	return g.cfg.Policy
}

// TagProperty returns the name of the tag property.
func (g *Governor) TagProperty() string {
	return g.cfg.TagProperty
}

// SystemTag returns the tag field marking a row as system-written.
func (g *Governor) SystemTag() records.Field {
	return records.Choice(g.cfg.TagProperty, g.cfg.SystemLabel)
}

// Source reads the tag from a row's fields. Unrecognized labels read as none.
func (g *Governor) Source(fields records.Fields) Source {
	f, ok := fields[g.cfg.TagProperty]
	if !ok {
		return SourceNone
	}
	switch f.String() {
	case g.cfg.SystemLabel:
		return SourceSystem
	case g.cfg.OwnerLabel:
		return SourceOwner
	}
	return SourceNone
}

// Forward plans a master-to-mirror write. current is nil for a new row.
// On an owner-tagged row the reverse-owned fields are held back for the
// reverse pass and the tag is left alone.
func (g *Governor) Forward(current *records.Record, proposed records.Fields) Plan {
	if g.cfg.Policy == Overwrite {
		return Plan{Action: Write, Fields: g.tagged(proposed), Reason: "overwrite policy"}
	}
	if current == nil {
		return Plan{Action: Write, Fields: g.tagged(proposed), Reason: "new row"}
	}
	if g.Source(current.Fields) != SourceOwner {
		return Plan{Action: Write, Fields: g.tagged(proposed), Reason: "system-owned row"}
	}

	fields := proposed.Clone()
	var deferred []string
	for _, name := range g.cfg.ReverseFields {
		f, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		if cur, ok := current.Fields[name]; !ok || !cur.Equal(f) {
			deferred = append(deferred, name)
		}
	}
	delete(fields, g.cfg.TagProperty)
	return Plan{Action: Write, Fields: fields, Deferred: deferred, Reason: "owner edit pending reverse pass"}
}

// Reverse plans a mirror-to-master push for one mirror row. Plan.Fields
// holds the reverse-owned values to write into master. Null values are never
// pushed; an owner-tagged row left with none is planned as a Flip so the
// next forward pass restores master's values.
func (g *Governor) Reverse(mirror records.Record) Plan {
	if g.cfg.Policy != Overwrite && g.Source(mirror.Fields) != SourceOwner {
		return Plan{Action: Skip, Reason: "row not edited by owner"}
	}
	fields := make(records.Fields)
	for name, f := range mirror.Fields {
		if slices.Contains(g.cfg.ReverseFields, name) && !f.IsNull() {
			fields[name] = f
		}
	}
	if len(fields) == 0 {
		if g.Source(mirror.Fields) == SourceOwner {
			return Plan{Action: Flip, Reason: "owner cleared reverse-owned values"}
		}
		return Plan{Action: Skip, Reason: "no reverse-owned values"}
	}
	reason := "owner edit"
	if g.cfg.Policy == Overwrite {
		reason = "overwrite policy"
	}
	return Plan{Action: Push, Fields: fields, Reason: reason}
}

// NeedsFlip reports whether a mirror row must be re-tagged as system-written
// after its values were reconciled.
func (g *Governor) NeedsFlip(mirror records.Record) bool {
	return g.Source(mirror.Fields) != SourceSystem
}

func (g *Governor) tagged(fields records.Fields) records.Fields {
	out := fields.Clone()
	out.Set(g.SystemTag())
	return out
}
