package owners

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/mirrorsync/internal/lock"
	"github.com/agentstation/mirrorsync/internal/provision"
	"github.com/agentstation/mirrorsync/internal/scan"
	"github.com/agentstation/mirrorsync/internal/store/memory"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
)

const (
	nameProp    = "اسم مدير المشروع"
	mirrorTitle = "مشاريعك"
)

type fixture struct {
	st       *memory.Store
	people   string
	registry string
	template string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	root := st.NewContainer()
	f := &fixture{
		st:       st,
		people:   st.AddTable(root, "people", records.NewSchema(records.Property{Name: "Name", Kind: records.KindTitle})),
		registry: st.AddTable(root, "managers", records.NewSchema(records.Property{Name: nameProp, Kind: records.KindTitle})),
		template: st.NewContainer(),
	}
	st.AddTable(f.template, mirrorTitle, records.NewSchema(
		records.Property{Name: "اسم المشروع", Kind: records.KindTitle},
	))
	return f
}

func (f *fixture) directory(opts ...Option) *Directory {
	prov := provision.New(f.st, f.template, provision.WithContentCopy(false))
	return New(f.st, prov, Config{RegistryID: f.registry, NameProperty: nameProp, MirrorTitle: mirrorTitle}, opts...)
}

func (f *fixture) person(name string) string {
	return f.st.Seed(f.people, records.Title("Name", name))
}

func TestResolveCreatesOwnerAndMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.directory()
	jane := f.person("Jane")

	res, err := d.Resolve(ctx, jane)
	require.NoError(t, err)
	assert.True(t, res.OwnerCreated)
	assert.True(t, res.MirrorProvisioned)
	assert.Equal(t, "Jane", res.OwnerName)
	assert.Equal(t, jane, res.OwnerID)
	assert.NotEmpty(t, res.MirrorTableID)

	reg := f.st.Rows(f.registry)
	require.Len(t, reg, 1)
	assert.Equal(t, "Jane", reg[0].Fields.TextOf(nameProp))
	assert.Equal(t, reg[0].ID, res.ContainerID)

	f.st.ResetWrites()
	gets := 0
	f.st.SetFault(func(op memory.Op, _ string) error {
		if op == memory.OpGetRecord {
			gets++
		}
		return nil
	})
	again, err := d.Resolve(ctx, jane)
	require.NoError(t, err)
	assert.False(t, again.OwnerCreated)
	assert.False(t, again.MirrorProvisioned)
	assert.Equal(t, res.MirrorTableID, again.MirrorTableID)
	assert.Zero(t, f.st.Writes().Total())
	assert.Zero(t, gets, "owner name is cached by id")
}

func TestResolveReusesRegistryRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing := f.st.Seed(f.registry, records.Title(nameProp, "Jane"))

	res, err := f.directory().Resolve(ctx, f.person("Jane"))
	require.NoError(t, err)
	assert.False(t, res.OwnerCreated)
	assert.True(t, res.MirrorProvisioned)
	assert.Equal(t, existing, res.ContainerID)
	assert.Len(t, f.st.Rows(f.registry), 1)
}

func TestResolveSameNameDifferentReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.directory()

	a, err := d.Resolve(ctx, f.person("Jane"))
	require.NoError(t, err)
	b, err := d.Resolve(ctx, f.person("Jane"))
	require.NoError(t, err)
	assert.Equal(t, a.MirrorTableID, b.MirrorTableID)
	assert.NotEqual(t, a.OwnerID, b.OwnerID)
	assert.Len(t, f.st.Rows(f.registry), 1)
	assert.Equal(t, 1, d.Len())
}

func TestResolveConcurrentSingleOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.directory()
	refs := make([]string, 10)
	for i := range refs {
		refs[i] = f.person("Jane")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(refs))
	for i, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = d.Resolve(ctx, ref)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, f.st.Rows(f.registry), 1)
	assert.Equal(t, 1, f.st.Writes().Creates)
	assert.Equal(t, 1, f.st.Writes().Tables)
}

func TestResolveWithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t)
	d := f.directory(WithLocker(lock.NewRedis(rdb)))
	res, err := d.Resolve(context.Background(), f.person("Jane"))
	require.NoError(t, err)
	assert.True(t, res.OwnerCreated)
	assert.Empty(t, mr.Keys(), "lock released after resolution")
}

func TestResolveFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing reference", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.directory().Resolve(ctx, "missing")
		var oe *errors.OwnerResolutionError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, StepDereference, oe.Step)
		assert.Equal(t, errors.KindOwnerResolution, errors.KindOf(err))
	})

	t.Run("unnamed owner", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.directory().Resolve(ctx, f.person(""))
		var oe *errors.OwnerResolutionError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, StepDereference, oe.Step)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("create fails", func(t *testing.T) {
		f := newFixture(t)
		ref := f.person("Jane")
		f.st.SetFault(func(op memory.Op, _ string) error {
			if op == memory.OpCreateRecord {
				return errors.New("boom")
			}
			return nil
		})
		_, err := f.directory().Resolve(ctx, ref)
		var oe *errors.OwnerResolutionError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, StepCreate, oe.Step)
		assert.True(t, errors.IsTransport(err))
	})

	t.Run("template missing", func(t *testing.T) {
		f := newFixture(t)
		prov := provision.New(f.st, f.st.NewContainer())
		d := New(f.st, prov, Config{RegistryID: f.registry, NameProperty: nameProp, MirrorTitle: mirrorTitle})
		_, err := d.Resolve(ctx, f.person("Jane"))
		var oe *errors.OwnerResolutionError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, StepProvision, oe.Step)
		assert.True(t, errors.IsProvision(err))
		assert.Equal(t, 0, d.Len())
	})
}

func TestExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.directory()
	_, err := d.Resolve(ctx, f.person("Jane"))
	require.NoError(t, err)
	f.st.Seed(f.registry, records.Title(nameProp, "Omar"))

	targets, err := scan.Collect(f.directory().Existing(ctx))
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "Jane", targets[0].OwnerName)
	assert.NotEmpty(t, targets[0].MirrorTableID)
	assert.Equal(t, "Omar", targets[1].OwnerName)
	assert.Empty(t, targets[1].MirrorTableID)
	assert.Equal(t, 1, f.st.Writes().Creates, "Existing creates nothing")
}
