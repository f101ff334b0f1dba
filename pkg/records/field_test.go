package records

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Field
		want bool
	}{
		{"title vs text", Title("a", "Alpha"), Text("b", "Alpha"), true},
		{"text differs", Text("a", "Alpha"), Text("a", "Beta"), false},
		{"select", Choice("s", "Active"), Choice("s", "Active"), true},
		{"select vs text", Choice("s", "Active"), Text("s", "Active"), false},
		{"decimal exact", Number("n", decimal.RequireFromString("100.0")), NumberFromFloat("n", 100), true},
		{"formula vs number", Formula("f", decimal.NewFromInt(7)), NumberFromFloat("n", 7), true},
		{"null numbers", NullNumber("n"), NullNumber("m"), true},
		{"null vs value", NullNumber("n"), NumberFromFloat("n", 0), false},
		{"relation as set", Relation("r", "a", "b"), Relation("r", "b", "a"), true},
		{"relation differs", Relation("r", "a"), Relation("r", "a", "b"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestFieldConvert(t *testing.T) {
	f, ok := Formula("remaining", decimal.NewFromInt(500)).Convert(KindNumber)
	require.True(t, ok)
	assert.Equal(t, KindNumber, f.Kind)
	assert.Equal(t, "500", f.String())

	f, ok = Title("name", "Alpha").Convert(KindText)
	require.True(t, ok)
	assert.Equal(t, "Alpha", f.Text)

	f, ok = Choice("status", "Active").Convert(KindText)
	require.True(t, ok)
	assert.Equal(t, "Active", f.Text)

	_, ok = Relation("owners", "x").Convert(KindNumber)
	assert.False(t, ok)

	_, ok = NumberFromFloat("n", 1).Convert(KindFormula)
	assert.False(t, ok, "computed kinds are never a conversion target")
}

func TestFieldIsNull(t *testing.T) {
	assert.True(t, Choice("s", "").IsNull())
	assert.True(t, NullNumber("n").IsNull())
	assert.True(t, Relation("r").IsNull())
	assert.False(t, Title("t", "x").IsNull())
	assert.False(t, NumberFromFloat("n", 0).IsNull())
}

func TestFieldsAccessors(t *testing.T) {
	fs := NewFields(
		Title("name", "Alpha"),
		Choice("status", "Active"),
		Relation("owners", "o1"),
	)
	title, ok := fs.Title()
	require.True(t, ok)
	assert.Equal(t, "name", title.Name)
	assert.Equal(t, "Alpha", fs.TextOf("name"))
	assert.Equal(t, "Active", fs.ChoiceOf("status"))
	assert.Equal(t, []string{"o1"}, fs.RelationOf("owners"))
	assert.Empty(t, fs.TextOf("status"))
	assert.Equal(t, []string{"name", "owners", "status"}, fs.Names())

	clone := fs.Clone()
	clone["owners"].Relation[0] = "changed"
	assert.Equal(t, "o1", fs.RelationOf("owners")[0])
}

func TestFilterMatches(t *testing.T) {
	fs := NewFields(Title("name", "Alpha"))
	assert.True(t, Equals(Title("name", "Alpha")).Matches(fs))
	assert.False(t, Equals(Title("name", "Beta")).Matches(fs))

	var none *Filter
	assert.True(t, none.Matches(fs))
}
