package mirrorsync

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/internal/upsert"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// Forward copies every master record into the mirror table of each of its
// owners. Failures of one record or one owner are recorded in the result and
// do not stop the pass; a failure to read the first page of master does.
func (e *Engine) Forward(ctx context.Context, opts ...run.Option) (*run.Result, error) {
	return e.execute(ctx, run.Forward, opts, func(ctx context.Context, p *pass) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Workers)

		var scanErr error
		for rec, err := range scan.Records(ctx, p.store, p.tables.Master, nil) {
			if err != nil {
				scanErr = p.scanFailed(ctx, "master", err)
				break
			}
			p.result.Update(func(s *run.Stats) { s.Scanned++ })
			g.Go(func() error {
				p.forwardRecord(gctx, rec)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return scanErr
	})
}

// forwardRecord replicates one master record to all of its owners.
func (p *pass) forwardRecord(ctx context.Context, rec records.Record) {
	m := p.cfg.mapping
	name := rec.Key(m.Name)

	ctx, span := p.startRecord(ctx, "mirrorsync.forward.record",
		attribute.String("mirrorsync.record_id", rec.ID),
		attribute.String("mirrorsync.record", name),
	)
	defer span.End()
	ctx = logging.WithRecord(ctx, name)
	log := logging.Ctx(ctx)

	if strings.TrimSpace(name) == "" {
		p.fail(ctx, rec.ID, "", errors.NewValidationError(m.Name, rec.ID, "record has no name"))
		return
	}
	ownerIDs := rec.Fields.RelationOf(m.Owners)
	if len(ownerIDs) == 0 {
		log.Warn().Msg("Skipping record without owners")
		p.result.Update(func(s *run.Stats) { s.Skipped++ })
		return
	}

	start := time.Now()
	key := records.Title(m.Name, name)
	proposed := records.NewFields()
	for _, prop := range m.forwardFields() {
		if f, ok := rec.Fields.Get(prop); ok {
			proposed.Set(f)
		}
	}
	for _, ownerID := range ownerIDs {
		p.forwardOwner(ctx, key, ownerID, proposed)
	}
	p.result.Update(func(s *run.Stats) { s.Processed++ })
	log.Debug().Int("owners", len(ownerIDs)).Dur("took", elapsed(start)).Msg("Record replicated")
}

// forwardOwner upserts one record into one owner's mirror.
func (p *pass) forwardOwner(ctx context.Context, key records.Field, ownerID string, proposed records.Fields) {
	res, err := p.dir.Resolve(ctx, ownerID)
	if err != nil {
		p.fail(ctx, key.Text, ownerID, err)
		return
	}
	p.resolved(res)
	ctx = logging.WithOwner(ctx, res.OwnerName)

	out, err := p.up.Upsert(ctx, upsert.Request{
		TableID: res.MirrorTableID,
		Key:     key,
		Fields:  proposed,
		Gate:    p.forwardGate,
	})
	if err != nil {
		p.fail(ctx, key.Text, res.OwnerName, err)
		return
	}

	p.result.Update(func(s *run.Stats) {
		switch out.Outcome {
		case upsert.Created:
			s.RowsInserted++
		case upsert.Updated:
			s.RowsUpdated++
		case upsert.Unchanged:
			s.RowsUnchanged++
		case upsert.Skipped:
			s.Skipped++
		}
		if len(out.Deferred) > 0 {
			s.Deferred++
		}
	})
	if len(out.Deferred) > 0 {
		logging.Ctx(ctx).Debug().Strs("fields", out.Deferred).Msg("Owner edit pending, deferred to reverse pass")
	}
	if out.Outcome == upsert.Created || out.Outcome == upsert.Updated {
		p.hooks.triggerRowWritten(RowEvent{
			Pass:     run.Forward,
			TableID:  res.MirrorTableID,
			RecordID: out.RecordID,
			Key:      key.Text,
			Outcome:  out.Outcome,
		})
	}
}
