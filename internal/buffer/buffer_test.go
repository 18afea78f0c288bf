package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetIsEmpty(t *testing.T) {
	s := New()

	for _, k := range Kinds {
		assert.Equal(t, "", s.Text(k))
		assert.Zero(t, s.Version(k))
	}
	assert.Equal(t, Markup, s.Active())
	assert.Equal(t, Sources{}, s.Snapshot())
}

func TestUpdateIsIndependent(t *testing.T) {
	s := FromSources(Sources{HTML: "<p>a</p>", CSS: "p{}", JS: "1"})

	changed, err := s.Update(Script, "2")
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, Sources{HTML: "<p>a</p>", CSS: "p{}", JS: "2"}, s.Snapshot())
	assert.Equal(t, uint64(1), s.Version(Markup))
	assert.Equal(t, uint64(2), s.Version(Script))
}

func TestUpdateSameTextIsNoop(t *testing.T) {
	s := New()

	changed, err := s.Update(Style, "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, s.Version(Style))
}

func TestUpdateUnknownKind(t *testing.T) {
	s := New()

	_, err := s.Update(Kind("py"), "print()")
	assert.Error(t, err)
	assert.Error(t, s.Select(Kind("py")))
}

func TestSelect(t *testing.T) {
	s := New()
	require.NoError(t, s.Select(Script))
	assert.Equal(t, Script, s.Active())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("HTML")
	assert.Error(t, err)
}

func TestLabelsAndPlaceholders(t *testing.T) {
	assert.Equal(t, "HTML", Markup.Label())
	assert.Equal(t, "JavaScript", Script.Label())
	assert.Equal(t, "Enter your javascript code here...", Script.Placeholder())
	assert.Equal(t, "Enter your css code here...", Style.Placeholder())
}

func TestSourcesGet(t *testing.T) {
	src := Sources{HTML: "h", CSS: "c", JS: "j"}
	assert.Equal(t, "h", src.Get(Markup))
	assert.Equal(t, "c", src.Get(Style))
	assert.Equal(t, "j", src.Get(Script))
	assert.Equal(t, "", src.Get(Kind("x")))
}
