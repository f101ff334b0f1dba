package mirrorsync

import (
	"github.com/agentstation/mirrorsync/internal/lock"
	"github.com/agentstation/mirrorsync/pkg/errors"
)

// Option is a function that configures an Engine
type Option func(*config) error

// WithMapping overrides the master property names.
func WithMapping(m Mapping) Option {
	return func(c *config) error {
		if m.Name == "" || m.Owners == "" {
			return errors.NewConfigurationError("mapping", "name and owners properties are required", nil)
		}
		c.mapping = m
		c.tag.ReverseFields = []string{m.Status}
		return nil
	}
}

// WithRegistryNameProperty sets the title property of the owner registry.
func WithRegistryNameProperty(name string) Option {
	return func(c *config) error {
		c.registryName = name
		return nil
	}
}

// WithMirrorTitle sets the display name of the mirror table in each owner
// container, which must match a table in the template container.
func WithMirrorTitle(title string) Option {
	return func(c *config) error {
		c.mirrorTitle = title
		return nil
	}
}

// WithTag configures the source tag property and its two labels.
func WithTag(property, systemLabel, ownerLabel string) Option {
	return func(c *config) error {
		c.tag.TagProperty = property
		c.tag.SystemLabel = systemLabel
		c.tag.OwnerLabel = ownerLabel
		return nil
	}
}

// WithPolicy selects the arbitration policy.
func WithPolicy(p Policy) Option {
	return func(c *config) error {
		c.tag.Policy = p
		return nil
	}
}

// WithTemplateCopy configures whether new owner containers receive the
// template container's content or only the mirror table.
func WithTemplateCopy(enabled bool) Option {
	return func(c *config) error {
		c.copyTemplate = enabled
		return nil
	}
}

// WithSubTables replaces the tables ensured under each mirror row. Pass
// none to disable them.
func WithSubTables(tables ...SubTable) Option {
	return func(c *config) error {
		for _, t := range tables {
			if t.Title == "" {
				return errors.NewConfigurationError("sub_tables", "sub-table title is required", nil)
			}
			if _, ok := t.Schema.TitleProperty(); !ok {
				return errors.NewConfigurationError("sub_tables", "sub-table "+t.Title+" has no title property", nil)
			}
		}
		c.subTables = tables
		return nil
	}
}

// WithLocker serializes owner creation across processes.
func WithLocker(l lock.Locker) Option {
	return func(c *config) error {
		c.locker = l
		return nil
	}
}
