package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
)

func projectSchema() records.Schema {
	return records.NewSchema(
		records.Property{Name: "name", Kind: records.KindTitle},
		records.Property{Name: "status", Kind: records.KindSelect},
		records.Property{Name: "remaining", Kind: records.KindFormula},
		records.Property{Name: "created", Kind: records.KindCreatedTime},
	)
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := New(WithPageSize(2))
	tbl := s.AddTable(s.NewContainer(), "projects", projectSchema())
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		s.Seed(tbl, records.Title("name", name))
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		page, err := s.Query(ctx, tbl, nil, cursor)
		require.NoError(t, err)
		pages++
		for _, r := range page.Records {
			got = append(got, r.Fields.TextOf("name"))
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Equal(t, 3, pages)
}

func TestQueryFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	tbl := s.AddTable(s.NewContainer(), "projects", projectSchema())
	s.Seed(tbl, records.Title("name", "Alpha"))
	s.Seed(tbl, records.Title("name", "Beta"))

	page, err := s.Query(ctx, tbl, records.Equals(records.Title("name", "Beta")), "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "Beta", page.Records[0].Fields.TextOf("name"))
	assert.NotEmpty(t, page.Records[0].Fields["created"].Text)
}

func TestWritesAreValidatedAndCounted(t *testing.T) {
	ctx := context.Background()
	s := New()
	tbl := s.AddTable(s.NewContainer(), "projects", projectSchema())

	id, err := s.CreateRecord(ctx, tbl, records.NewFields(records.Title("name", "Alpha")))
	require.NoError(t, err)

	_, err = s.CreateRecord(ctx, tbl, records.NewFields(records.Text("unknown", "x")))
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))

	err = s.UpdateRecord(ctx, id, records.NewFields(records.NumberFromFloat("remaining", 5)))
	require.Error(t, err, "computed properties are read-only")

	require.NoError(t, s.UpdateRecord(ctx, id, records.NewFields(records.Choice("status", "Active"))))
	rec, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Active", rec.Fields.ChoiceOf("status"))

	assert.Equal(t, Counts{Creates: 1, Updates: 1}, s.Writes())
	s.ResetWrites()
	assert.Zero(t, s.Writes().Total())
}

func TestTablesAndContent(t *testing.T) {
	ctx := context.Background()
	s := New(WithPageSize(1))
	page := s.NewContainer()

	tbl, err := s.CreateTable(ctx, page, "mirror", projectSchema().Writable())
	require.NoError(t, err)
	require.NoError(t, s.AppendContent(ctx, page, []records.Node{{Type: "paragraph"}}))

	err = s.AppendContent(ctx, page, []records.Node{{Type: records.NodeTable}})
	require.Error(t, err)

	first, err := s.ListChildren(ctx, page, "")
	require.NoError(t, err)
	require.Len(t, first.Children, 1)
	assert.True(t, first.HasMore)
	assert.Equal(t, tbl, first.Children[0].ID)
	assert.Equal(t, "mirror", first.Children[0].Title)

	second, err := s.ListChildren(ctx, page, first.NextCursor)
	require.NoError(t, err)
	assert.False(t, second.HasMore)
	assert.Equal(t, records.NodeType("paragraph"), second.Children[0].Type)

	require.NoError(t, s.UpdateTableSchema(ctx, tbl, records.NewSchema(
		records.Property{Name: "notes", Kind: records.KindText},
	)))
	got, err := s.GetTableSchema(ctx, tbl)
	require.NoError(t, err)
	assert.True(t, got.Schema.Has("notes"))
	assert.True(t, got.Schema.Has("name"))
	assert.Equal(t, 1, s.Writes().SchemaUpdates)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	tbl := s.AddTable(s.NewContainer(), "projects", projectSchema())

	s.SetFault(func(op Op, target string) error {
		if op == OpQuery && target == tbl {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err := s.Query(ctx, tbl, nil, "")
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))

	s.SetFault(nil)
	_, err = s.Query(ctx, tbl, nil, "")
	require.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	s := New()
	_, err := s.GetRecord(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
