package mirrorsync

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/mirrorsync/internal/governor"
	"github.com/agentstation/mirrorsync/internal/owners"
	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/internal/upsert"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// Reverse pushes owner-edited values from every mirror table back into
// master and re-tags the pushed rows as system-written. Rows whose master
// record no longer exists are skipped. When run.Options.SubTables is set,
// the configured sub-tables are ensured under every mirror row.
func (e *Engine) Reverse(ctx context.Context, opts ...run.Option) (*run.Result, error) {
	return e.execute(ctx, run.Reverse, opts, func(ctx context.Context, p *pass) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Workers)

		var scanErr error
	registry:
		for t, err := range p.dir.Existing(ctx) {
			switch {
			case err == nil:
			case isPageError(err):
				scanErr = p.scanFailed(ctx, "registry", err)
				break registry
			default:
				p.fail(ctx, "", t.OwnerName, err)
				continue
			}
			if t.MirrorTableID == "" {
				logging.Ctx(ctx).Debug().Str("owner", t.OwnerName).Msg("Owner has no mirror table")
				continue
			}
			if err := p.reverseOwner(ctx, g, gctx, t); err != nil {
				scanErr = err
				break
			}
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return scanErr
	})
}

// reverseOwner schedules every row of one owner's mirror. A failed mirror
// scan is isolated to the owner.
func (p *pass) reverseOwner(ctx context.Context, g *errgroup.Group, gctx context.Context, t owners.Target) error {
	octx := logging.WithOwner(ctx, t.OwnerName)
	for row, err := range scan.Records(octx, p.store, t.MirrorTableID, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.fail(octx, "", t.OwnerName, err)
			return nil
		}
		p.result.Update(func(s *run.Stats) { s.Scanned++ })
		g.Go(func() error {
			p.reverseRow(logging.WithOwner(gctx, t.OwnerName), t, row)
			return nil
		})
	}
	return nil
}

// reverseRow reconciles one mirror row with master.
func (p *pass) reverseRow(ctx context.Context, t owners.Target, row records.Record) {
	m := p.cfg.mapping
	key := row.Key(m.Name)

	ctx, span := p.startRecord(ctx, "mirrorsync.reverse.record",
		attribute.String("mirrorsync.record_id", row.ID),
		attribute.String("mirrorsync.owner", t.OwnerName),
	)
	defer span.End()
	ctx = logging.WithRecord(ctx, key)
	log := logging.Ctx(ctx)

	if strings.TrimSpace(key) == "" {
		log.Debug().Str("record_id", row.ID).Msg("Skipping mirror row without a name")
		p.result.Update(func(s *run.Stats) { s.Skipped++ })
		return
	}
	p.result.Update(func(s *run.Stats) { s.Processed++ })

	if p.opts.SubTables {
		p.ensureSubTables(ctx, t, row)
	}

	plan := p.gov.Reverse(row)
	if plan.Action == governor.Skip {
		log.Trace().Str("reason", plan.Reason).Msg("Nothing to push")
		p.result.Update(func(s *run.Stats) { s.Skipped++ })
		return
	}

	if plan.Action == governor.Push && !p.push(ctx, t, key, plan) {
		return
	}
	if plan.Action == governor.Flip {
		log.Debug().Str("reason", plan.Reason).Msg("Returning mirror row to master values")
	}

	if !p.gov.NeedsFlip(row) {
		return
	}
	flipped, err := p.up.Update(ctx, t.MirrorTableID, &row, records.NewFields(p.gov.SystemTag()))
	if err != nil {
		p.fail(ctx, key, t.OwnerName, err)
		return
	}
	if flipped {
		p.result.Update(func(s *run.Stats) { s.Reconciled++ })
		p.hooks.triggerRowWritten(RowEvent{
			Pass:     run.Reverse,
			TableID:  t.MirrorTableID,
			RecordID: row.ID,
			Key:      key,
			Outcome:  upsert.Updated,
		})
	}
}

// ensureSubTables creates the configured sub-tables missing under a mirror
// row. Failures are recorded and do not stop the row's reconciliation.
func (p *pass) ensureSubTables(ctx context.Context, t owners.Target, row records.Record) {
	for _, sub := range p.cfg.subTables {
		_, created, err := p.prov.EnsureChildTable(ctx, row.ID, sub.Title, sub.Schema)
		if err != nil {
			p.fail(ctx, row.Key(p.cfg.mapping.Name), t.OwnerName, err)
			continue
		}
		if created {
			p.result.Update(func(s *run.Stats) { s.SubTablesCreated++ })
		}
	}
}

// push writes a planned owner edit into the matching master record. It
// reports whether the row may go on to be re-tagged.
func (p *pass) push(ctx context.Context, t owners.Target, key string, plan governor.Plan) bool {
	m := p.cfg.mapping
	log := logging.Ctx(ctx)

	master, err := p.up.FindOne(ctx, p.tables.Master, records.Title(m.Name, key))
	if err != nil {
		p.fail(ctx, key, t.OwnerName, err)
		return false
	}
	if master == nil {
		log.Warn().Msg("No master record for mirror row, skipping")
		p.result.Update(func(s *run.Stats) { s.Skipped++ })
		return false
	}

	pushed, err := p.up.Update(ctx, p.tables.Master, master, plan.Fields)
	if err != nil {
		p.fail(ctx, key, t.OwnerName, err)
		return false
	}
	if pushed {
		p.result.Update(func(s *run.Stats) { s.Pushed++ })
		log.Info().Strs("fields", plan.Fields.Names()).Str("reason", plan.Reason).Msg("Pushed owner edit to master")
		p.hooks.triggerRowWritten(RowEvent{
			Pass:     run.Reverse,
			TableID:  p.tables.Master,
			RecordID: master.ID,
			Key:      key,
			Outcome:  upsert.Updated,
		})
	}
	return true
}
