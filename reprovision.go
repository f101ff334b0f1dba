package mirrorsync

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// Reprovision adds template properties missing from every existing mirror
// table. It never creates owners or mirrors and never removes properties.
func (e *Engine) Reprovision(ctx context.Context, opts ...run.Option) (*run.Result, error) {
	return e.execute(ctx, run.Reprovision, opts, func(ctx context.Context, p *pass) error {
		for t, err := range p.dir.Existing(ctx) {
			switch {
			case err == nil:
			case isPageError(err):
				return p.scanFailed(ctx, "registry", err)
			default:
				p.fail(ctx, "", t.OwnerName, err)
				continue
			}
			if t.MirrorTableID == "" {
				continue
			}
			p.result.Update(func(s *run.Stats) { s.Scanned++ })

			octx, span := p.startRecord(logging.WithOwner(ctx, t.OwnerName), "mirrorsync.reprovision.table",
				attribute.String("mirrorsync.owner", t.OwnerName),
				attribute.String("mirrorsync.table_id", t.MirrorTableID),
			)
			added, err := p.prov.Reprovision(octx, t.MirrorTableID, p.cfg.mirrorTitle)
			if err != nil {
				p.fail(octx, "", t.OwnerName, err)
				span.End()
				if errors.Is(err, errors.ErrNotSupported) {
					return err
				}
				continue
			}
			p.result.Update(func(s *run.Stats) {
				s.Processed++
				s.FieldsAdded += len(added)
			})
			span.End()
		}
		return nil
	})
}

func isPageError(err error) bool {
	var pe *scan.PageError
	return errors.As(err, &pe)
}
