package mirrorsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentstation/mirrorsync/internal/governor"
	"github.com/agentstation/mirrorsync/internal/owners"
	"github.com/agentstation/mirrorsync/internal/provision"
	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/internal/upsert"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// pass holds the per-run state. Caches in the directory, provisioner and
// upserter live exactly as long as one run.
type pass struct {
	*Engine
	opts   *run.Options
	result *run.Result
	prov   *provision.Provisioner
	dir    *owners.Directory
	up     *upsert.Engine
}

func (e *Engine) newPass(kind run.Pass, opts *run.Options) *pass {
	prov := provision.New(e.store, e.tables.Template, provision.WithContentCopy(e.cfg.copyTemplate))
	var dirOpts []owners.Option
	if e.cfg.locker != nil {
		dirOpts = append(dirOpts, owners.WithLocker(e.cfg.locker))
	}
	return &pass{
		Engine: e,
		opts:   opts,
		result: run.NewResult(kind, opts.RunID),
		prov:   prov,
		dir: owners.New(e.store, prov, owners.Config{
			RegistryID:   e.tables.Registry,
			NameProperty: e.cfg.registryName,
			MirrorTitle:  e.cfg.mirrorTitle,
		}, dirOpts...),
		up: upsert.New(e.store),
	}
}

// execute runs body as one pass. The result is returned even when the pass
// fails so callers can report what was done before the failure.
func (e *Engine) execute(ctx context.Context, kind run.Pass, opts []run.Option, body func(context.Context, *pass) error) (*run.Result, error) {
	o := run.Defaults().Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	ctx = logging.WithPass(logging.WithRunID(ctx, o.RunID), string(kind))
	ctx, span := e.tracer.Start(ctx, "mirrorsync."+string(kind), trace.WithAttributes(
		attribute.String("mirrorsync.run_id", o.RunID),
		attribute.Int("mirrorsync.workers", o.Workers),
	))
	defer span.End()

	p := e.newPass(kind, o)
	log := logging.Ctx(ctx)
	log.Info().Int("workers", o.Workers).Msg("Starting pass")

	err := body(ctx, p)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = errors.NewTimeoutError(string(kind), o.Timeout.String(), err)
	}
	p.result.Finish()

	stats := p.result.Snapshot()
	span.SetAttributes(
		attribute.Int("mirrorsync.processed", stats.Processed),
		attribute.Int("mirrorsync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("summary", p.result.Summary()).Msg("Pass failed")
		return p.result, err
	}
	log.Info().
		Int("processed", stats.Processed).
		Int("errors", stats.Errors).
		Dur("duration", p.result.Duration).
		Msg(p.result.Summary())
	return p.result, nil
}

// scanFailed decides what a failed scan means for the pass: an initial page
// failure aborts it, a later one is recorded and ends the scan.
func (p *pass) scanFailed(ctx context.Context, what string, err error) error {
	var pe *scan.PageError
	if errors.As(err, &pe) && pe.Initial() {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Ctx(ctx).Warn().Err(err).Msgf("Scan of %s ended early", what)
	p.result.Fail("", "", err)
	return nil
}

// fail records an isolated failure on the result and the span.
func (p *pass) fail(ctx context.Context, record, owner string, err error) {
	p.result.Fail(record, owner, err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logging.Ctx(ctx).Error().Err(err).Str("kind", errors.KindOf(err).String()).Msg("Record failed")
}

// startRecord opens the span of one unit of work.
func (p *pass) startRecord(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// forwardGate adapts the governor's forward plan to the upserter.
func (p *pass) forwardGate(current *records.Record, proposed records.Fields) upsert.Decision {
	plan := p.gov.Forward(current, proposed)
	return upsert.Decision{
		Fields:   plan.Fields,
		Deferred: plan.Deferred,
		Skip:     plan.Action == governor.Skip,
	}
}

// resolved counts and announces what resolving an owner created.
func (p *pass) resolved(res *owners.Resolution) {
	if res.OwnerCreated || res.MirrorProvisioned {
		p.result.Update(func(s *run.Stats) {
			if res.OwnerCreated {
				s.OwnersCreated++
			}
			if res.MirrorProvisioned {
				s.MirrorsCreated++
			}
		})
	}
	p.hooks.triggerResolution(res)
}

func elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
