package mirrorsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/mirrorsync/internal/store/memory"
	"github.com/agentstation/mirrorsync/internal/upsert"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/run"
)

type fixture struct {
	t        *testing.T
	st       *memory.Store
	master   string
	people   string
	registry string
	template string
	mirror   string // mirror table inside the template container
}

func mirrorSchema() []records.Property {
	return []records.Property{
		{Name: DefaultNameProperty, Kind: records.KindTitle},
		{Name: DefaultStatusProperty, Kind: records.KindSelect},
		{Name: DefaultRemainingProperty, Kind: records.KindNumber},
		{Name: DefaultTagProperty, Kind: records.KindSelect},
	}
}

func newFixture(t *testing.T, mirrorProps ...records.Property) *fixture {
	t.Helper()
	if len(mirrorProps) == 0 {
		mirrorProps = mirrorSchema()
	}
	st := memory.New(memory.WithPageSize(3))
	root := st.NewContainer()
	f := &fixture{t: t, st: st, template: st.NewContainer()}
	f.people = st.AddTable(root, "people", records.NewSchema(records.Property{Name: "Name", Kind: records.KindTitle}))
	f.registry = st.AddTable(root, "managers", records.NewSchema(
		records.Property{Name: DefaultRegistryNameProperty, Kind: records.KindTitle},
	))
	f.master = st.AddTable(root, "projects", records.NewSchema(
		records.Property{Name: DefaultNameProperty, Kind: records.KindTitle},
		records.Property{Name: DefaultStatusProperty, Kind: records.KindSelect},
		records.Property{Name: DefaultRemainingProperty, Kind: records.KindFormula},
		records.Property{Name: DefaultOwnersProperty, Kind: records.KindRelation},
		records.Property{Name: "ملاحظات", Kind: records.KindText},
	))
	f.mirror = st.AddTable(f.template, DefaultMirrorTitle, records.NewSchema(mirrorProps...))
	st.AddContent(f.template, records.Node{Type: "paragraph", Payload: map[string]any{"text": "welcome"}})
	return f
}

func (f *fixture) engine(opts ...Option) *Engine {
	f.t.Helper()
	eng, err := New(f.st, Tables{Master: f.master, Registry: f.registry, Template: f.template}, opts...)
	require.NoError(f.t, err)
	return eng
}

func (f *fixture) person(name string) string {
	return f.st.Seed(f.people, records.Title("Name", name))
}

func (f *fixture) project(name, status string, remaining int64, owners ...string) string {
	return f.st.Seed(f.master,
		records.Title(DefaultNameProperty, name),
		records.Choice(DefaultStatusProperty, status),
		records.Formula(DefaultRemainingProperty, decimal.NewFromInt(remaining)),
		records.Relation(DefaultOwnersProperty, owners...),
		records.Text("ملاحظات", "internal"),
	)
}

// mirrorOf returns the mirror table of the named owner.
func (f *fixture) mirrorOf(owner string) string {
	f.t.Helper()
	for _, rec := range f.st.Rows(f.registry) {
		if rec.Fields.TextOf(DefaultRegistryNameProperty) != owner {
			continue
		}
		for _, tbl := range f.st.Tables(rec.ID) {
			if tbl.Title == DefaultMirrorTitle {
				return tbl.ID
			}
		}
	}
	f.t.Fatalf("no mirror table for %s", owner)
	return ""
}

func (f *fixture) row(tableID, name string) records.Record {
	f.t.Helper()
	for _, rec := range f.st.Rows(tableID) {
		if rec.Fields.TextOf(DefaultNameProperty) == name {
			return rec
		}
	}
	f.t.Fatalf("no row %s in %s", name, tableID)
	return records.Record{}
}

func TestNewRequiresTables(t *testing.T) {
	_, err := New(memory.New(), Tables{Master: "projects"})
	require.Error(t, err)

	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"registry", "template"}, cfgErr.Missing)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	f := newFixture(t)
	tables := Tables{Master: f.master, Registry: f.registry, Template: f.template}

	_, err := New(f.st, tables, WithTag(DefaultTagProperty, "same", "same"))
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(f.st, tables, WithPolicy("sometimes"))
	assert.True(t, errors.IsConfiguration(err))

	_, err = New(f.st, tables, WithSubTables(SubTable{Title: "bad"}))
	assert.True(t, errors.IsConfiguration(err))
}

func TestForwardIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	jane := f.person("Jane")
	f.project("Alpha", "Active", 100, jane)
	eng := f.engine()

	result, err := eng.Forward(ctx)
	require.NoError(t, err)
	stats := result.Snapshot()
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.OwnersCreated)
	assert.Equal(t, 1, stats.MirrorsCreated)
	assert.Equal(t, 1, stats.RowsInserted)
	assert.Zero(t, stats.Errors)
	assert.NotEmpty(t, result.RunID)

	mirror := f.mirrorOf("Jane")
	row := f.row(mirror, "Alpha")
	assert.Equal(t, "Active", row.Fields.ChoiceOf(DefaultStatusProperty))
	assert.Equal(t, DefaultSystemLabel, row.Fields.ChoiceOf(DefaultTagProperty))
	assert.Equal(t, "100", row.Fields[DefaultRemainingProperty].String())
	_, leaked := row.Fields.Get("ملاحظات")
	assert.False(t, leaked)

	// the owner container received the template content
	var paragraphs int
	for _, n := range f.st.Children(f.st.Rows(f.registry)[0].ID) {
		if n.Type == "paragraph" {
			paragraphs++
		}
	}
	assert.Equal(t, 1, paragraphs)

	f.st.ResetWrites()
	again, err := eng.Forward(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.st.Writes().Total())
	assert.Equal(t, 1, again.Snapshot().RowsUnchanged)
	assert.Zero(t, again.Snapshot().Writes())
	assert.NotEqual(t, result.RunID, again.RunID)
}

func TestForwardPropagatesMasterChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	jane := f.person("Jane")
	alpha := f.project("Alpha", "Active", 100, jane)
	eng := f.engine()

	_, err := eng.Forward(ctx)
	require.NoError(t, err)

	require.NoError(t, f.st.UpdateRecord(ctx, alpha, records.NewFields(records.Choice(DefaultStatusProperty, "Paused"))))
	result, err := eng.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Snapshot().RowsUpdated)
	assert.Equal(t, "Paused", f.row(f.mirrorOf("Jane"), "Alpha").Fields.ChoiceOf(DefaultStatusProperty))
}

func TestForwardCreatesOneOwnerPerName(t *testing.T) {
	tests := []struct {
		name    string
		workers int
	}{
		{"sequential", 1},
		{"parallel", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			jane := f.person("Jane")
			for i := range 12 {
				f.project(fmt.Sprintf("Project %02d", i), "Active", int64(i), jane)
			}

			result, err := f.engine().Forward(context.Background(), run.WithWorkers(tt.workers))
			require.NoError(t, err)
			stats := result.Snapshot()
			assert.Equal(t, 12, stats.Processed)
			assert.Equal(t, 12, stats.RowsInserted)
			assert.Equal(t, 1, stats.OwnersCreated)
			assert.Equal(t, 1, stats.MirrorsCreated)

			assert.Len(t, f.st.Rows(f.registry), 1)
			assert.Len(t, f.st.Rows(f.mirrorOf("Jane")), 12)
		})
	}
}

func TestForwardFansOutToEveryOwner(t *testing.T) {
	f := newFixture(t)
	jane, omar := f.person("Jane"), f.person("Omar")
	f.project("Alpha", "Active", 10, jane, omar)

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Snapshot().RowsInserted)
	assert.Equal(t, 2, result.Snapshot().OwnersCreated)
	f.row(f.mirrorOf("Jane"), "Alpha")
	f.row(f.mirrorOf("Omar"), "Alpha")
}

func TestForwardProjectsOntoMirrorSchema(t *testing.T) {
	f := newFixture(t,
		records.Property{Name: DefaultNameProperty, Kind: records.KindTitle},
		records.Property{Name: DefaultStatusProperty, Kind: records.KindSelect},
		records.Property{Name: DefaultTagProperty, Kind: records.KindSelect},
	)
	f.project("Alpha", "Active", 100, f.person("Jane"))

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Snapshot().Errors)

	row := f.row(f.mirrorOf("Jane"), "Alpha")
	_, ok := row.Fields.Get(DefaultRemainingProperty)
	assert.False(t, ok)
	assert.Equal(t, "Active", row.Fields.ChoiceOf(DefaultStatusProperty))
}

func TestForwardIsolatesRecordFailures(t *testing.T) {
	f := newFixture(t)
	jane := f.person("Jane")
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("P%d", i)
		if i == 3 {
			name = ""
		}
		f.project(name, "Active", 1, jane)
	}

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	stats := result.Snapshot()
	assert.Equal(t, 5, stats.Scanned)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, errors.KindValidation, result.Errors[0].Kind)
	assert.Len(t, f.st.Rows(f.mirrorOf("Jane")), 4)
}

func TestForwardIsolatesOwnerFailures(t *testing.T) {
	f := newFixture(t)
	jane, ghost := f.person("Jane"), f.person("Ghost")
	f.project("Alpha", "Active", 1, ghost, jane)
	f.project("Beta", "Active", 1, jane)
	f.st.SetFault(func(op memory.Op, target string) error {
		if op == memory.OpGetRecord && target == ghost {
			return fmt.Errorf("boom")
		}
		return nil
	})

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	stats := result.Snapshot()
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.RowsInserted)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, errors.KindOwnerResolution, result.Errors[0].Kind)
}

func TestForwardSkipsRecordsWithoutOwners(t *testing.T) {
	f := newFixture(t)
	f.project("Orphan", "Active", 1)

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Snapshot().Skipped)
	assert.Zero(t, result.Snapshot().Processed)
	assert.Empty(t, f.st.Rows(f.registry))
}

func TestForwardFailsOnInitialScan(t *testing.T) {
	f := newFixture(t)
	f.project("Alpha", "Active", 1, f.person("Jane"))
	f.st.SetFault(func(op memory.Op, target string) error {
		if op == memory.OpQuery && target == f.master {
			return fmt.Errorf("unavailable")
		}
		return nil
	})

	result, err := f.engine().Forward(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	require.NotNil(t, result)
	assert.Zero(t, result.Snapshot().Processed)
}

func TestForwardRecordsLaterScanFailure(t *testing.T) {
	f := newFixture(t)
	jane := f.person("Jane")
	for i := range 5 {
		f.project(fmt.Sprintf("P%d", i), "Active", 1, jane)
	}
	var mu sync.Mutex
	queries := 0
	f.st.SetFault(func(op memory.Op, target string) error {
		if op != memory.OpQuery || target != f.master {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		queries++
		if queries > 1 {
			return fmt.Errorf("unavailable")
		}
		return nil
	})

	result, err := f.engine().Forward(context.Background())
	require.NoError(t, err)
	stats := result.Snapshot()
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
}

func TestForwardTimeout(t *testing.T) {
	f := newFixture(t)
	f.project("Alpha", "Active", 1, f.person("Jane"))

	result, err := f.engine().Forward(context.Background(), run.WithTimeout(time.Nanosecond))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.NotNil(t, result)
}

func TestForwardRejectsInvalidRunOptions(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine().Forward(context.Background(), run.WithWorkers(0))
	assert.True(t, errors.IsValidation(err))
}

func TestReverseLoopFreedom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	jane := f.person("Jane")
	alpha := f.project("Alpha", "Active", 100, jane)
	eng := f.engine()

	_, err := eng.Forward(ctx)
	require.NoError(t, err)
	mirror := f.mirrorOf("Jane")
	row := f.row(mirror, "Alpha")

	// the owner marks the project done
	require.NoError(t, f.st.UpdateRecord(ctx, row.ID, records.NewFields(
		records.Choice(DefaultStatusProperty, "Done"),
		records.Choice(DefaultTagProperty, DefaultOwnerLabel),
	)))

	// forward before reverse leaves the owner edit alone
	fwd, err := eng.Forward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fwd.Snapshot().Deferred)
	row = f.row(mirror, "Alpha")
	assert.Equal(t, "Done", row.Fields.ChoiceOf(DefaultStatusProperty))
	assert.Equal(t, DefaultOwnerLabel, row.Fields.ChoiceOf(DefaultTagProperty))

	rev, err := eng.Reverse(ctx)
	require.NoError(t, err)
	stats := rev.Snapshot()
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, 1, stats.Reconciled)
	assert.Equal(t, 2, stats.SubTablesCreated)
	assert.Zero(t, stats.Errors)

	master := f.row(f.master, "Alpha")
	assert.Equal(t, alpha, master.ID)
	assert.Equal(t, "Done", master.Fields.ChoiceOf(DefaultStatusProperty))
	assert.Equal(t, DefaultSystemLabel, f.row(mirror, "Alpha").Fields.ChoiceOf(DefaultTagProperty))

	var titles []string
	for _, tbl := range f.st.Tables(row.ID) {
		titles = append(titles, tbl.Title)
	}
	assert.ElementsMatch(t, []string{"فريق الفرعي لانس", "المشتريات"}, titles)

	f.st.ResetWrites()
	again, err := eng.Reverse(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.st.Writes().Total())
	assert.Equal(t, 1, again.Snapshot().Skipped)

	_, err = eng.Forward(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.st.Writes().Total())
}

func TestReverseReconcilesOwnerRows(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		ownerStatus string
		wantPushed  int
		wantMaster  string
	}{
		{"owner edit", "Alpha", "Done", 1, "Done"},
		{"owner cleared status", "Alpha", "", 0, "Active"},
		{"trailing whitespace in key", "Alpha ", "Done", 1, "Done"},
		{"leading whitespace in key", " Alpha", "Done", 1, "Done"},
		{"cleared status with whitespace key", "Alpha ", "", 0, "Active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.project(tt.key, "Active", 100, f.person("Jane"))
			eng := f.engine()

			_, err := eng.Forward(ctx)
			require.NoError(t, err)
			mirror := f.mirrorOf("Jane")
			row := f.row(mirror, tt.key)
			require.NoError(t, f.st.UpdateRecord(ctx, row.ID, records.NewFields(
				records.Choice(DefaultStatusProperty, tt.ownerStatus),
				records.Choice(DefaultTagProperty, DefaultOwnerLabel),
			)))

			// a forward pass in between must not undo the owner's change
			fwd, err := eng.Forward(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, fwd.Snapshot().Deferred)
			assert.Equal(t, tt.ownerStatus, f.row(mirror, tt.key).Fields.ChoiceOf(DefaultStatusProperty))

			rev, err := eng.Reverse(ctx)
			require.NoError(t, err)
			stats := rev.Snapshot()
			assert.Zero(t, stats.Errors)
			assert.Equal(t, tt.wantPushed, stats.Pushed)
			assert.Equal(t, 1, stats.Reconciled)
			assert.Equal(t, tt.wantMaster, f.row(f.master, tt.key).Fields.ChoiceOf(DefaultStatusProperty))
			assert.Equal(t, DefaultSystemLabel, f.row(mirror, tt.key).Fields.ChoiceOf(DefaultTagProperty))

			_, err = eng.Forward(ctx)
			require.NoError(t, err)
			row = f.row(mirror, tt.key)
			assert.Equal(t, tt.wantMaster, row.Fields.ChoiceOf(DefaultStatusProperty))
			assert.Equal(t, DefaultSystemLabel, row.Fields.ChoiceOf(DefaultTagProperty))
			assert.Len(t, f.st.Rows(mirror), 1)

			f.st.ResetWrites()
			_, err = eng.Forward(ctx)
			require.NoError(t, err)
			_, err = eng.Reverse(ctx)
			require.NoError(t, err)
			assert.Zero(t, f.st.Writes().Total(), "converged pair needs no writes")
		})
	}
}

func TestReverseSkipsRowsWithoutMaster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	eng := f.engine()
	f.project("Alpha", "Active", 1, f.person("Jane"))
	_, err := eng.Forward(ctx)
	require.NoError(t, err)

	mirror := f.mirrorOf("Jane")
	f.st.Seed(mirror,
		records.Title(DefaultNameProperty, "Side project"),
		records.Choice(DefaultStatusProperty, "Done"),
		records.Choice(DefaultTagProperty, DefaultOwnerLabel),
	)

	f.st.ResetWrites()
	result, err := eng.Reverse(ctx, run.WithSubTables(false))
	require.NoError(t, err)
	stats := result.Snapshot()
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Errors)
	assert.Zero(t, f.st.Writes().Total())
	assert.Equal(t, DefaultOwnerLabel, f.row(mirror, "Side project").Fields.ChoiceOf(DefaultTagProperty))
}

func TestReverseOverwritePolicyPushesEveryRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	eng := f.engine(WithPolicy(PolicyOverwrite))
	f.project("Alpha", "Active", 1, f.person("Jane"))
	_, err := eng.Forward(ctx)
	require.NoError(t, err)

	row := f.row(f.mirrorOf("Jane"), "Alpha")
	require.NoError(t, f.st.UpdateRecord(ctx, row.ID, records.NewFields(records.Choice(DefaultStatusProperty, "Done"))))

	result, err := eng.Reverse(ctx, run.WithSubTables(false))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Snapshot().Pushed)
	assert.Zero(t, result.Snapshot().Reconciled)
	assert.Equal(t, "Done", f.row(f.master, "Alpha").Fields.ChoiceOf(DefaultStatusProperty))
}

func TestReverseFailsOnInitialRegistryScan(t *testing.T) {
	f := newFixture(t)
	f.st.SetFault(func(op memory.Op, target string) error {
		if op == memory.OpQuery && target == f.registry {
			return fmt.Errorf("unavailable")
		}
		return nil
	})
	_, err := f.engine().Reverse(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestReprovisionAddsTemplateProperties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	eng := f.engine()
	f.project("Alpha", "Active", 1, f.person("Jane"))
	_, err := eng.Forward(ctx)
	require.NoError(t, err)

	require.NoError(t, f.st.UpdateTableSchema(ctx, f.mirror, records.NewSchema(
		records.Property{Name: "ملاحظات المدير", Kind: records.KindText},
	)))

	result, err := eng.Reprovision(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Snapshot().FieldsAdded)
	assert.Equal(t, 1, result.Snapshot().Processed)

	var found bool
	for _, tbl := range f.st.Tables(f.st.Rows(f.registry)[0].ID) {
		if tbl.Title == DefaultMirrorTitle {
			found = tbl.Schema.Has("ملاحظات المدير")
		}
	}
	assert.True(t, found)

	again, err := eng.Reprovision(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Snapshot().FieldsAdded)
}

func TestHooks(t *testing.T) {
	f := newFixture(t)
	eng := f.engine()
	jane := f.person("Jane")
	f.project("Alpha", "Active", 1, jane)
	f.project("Beta", "Active", 1, jane)

	var (
		mu      sync.Mutex
		created []Owner
		mirrors []Owner
		written []RowEvent
	)
	eng.OnOwnerCreated(func(o Owner) {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, o)
	})
	eng.OnMirrorProvisioned(func(o Owner) {
		mu.Lock()
		defer mu.Unlock()
		mirrors = append(mirrors, o)
	})
	eng.OnRowWritten(func(e RowEvent) {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, e)
	})

	_, err := eng.Forward(context.Background(), run.WithWorkers(2))
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, "Jane", created[0].Name)
	require.Len(t, mirrors, 1)
	assert.Equal(t, f.mirrorOf("Jane"), mirrors[0].MirrorTableID)
	require.Len(t, written, 2)
	for _, e := range written {
		assert.Equal(t, run.Forward, e.Pass)
		assert.Equal(t, upsert.Created, e.Outcome)
	}
}

func TestTemplateCopyDisabled(t *testing.T) {
	f := newFixture(t)
	f.project("Alpha", "Active", 1, f.person("Jane"))

	_, err := f.engine(WithTemplateCopy(false)).Forward(context.Background())
	require.NoError(t, err)

	children := f.st.Children(f.st.Rows(f.registry)[0].ID)
	require.Len(t, children, 1)
	assert.True(t, children[0].IsTable())
}
