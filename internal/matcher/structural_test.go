package matcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

const goSource = `package demo

func Foo() int { return 1 }

func Bar() {
	_ = Foo()
}
`

func structuralQuery(q string) types.QueryParams {
	return types.QueryParams{FindText: q, Mode: types.ModeStructural}
}

func TestStructural_MatchCapture(t *testing.T) {
	m := New()
	defer m.Close()

	got, err := m.Match("demo.go", []byte(goSource), structuralQuery(`(function_declaration name: (identifier) @match)`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo", "Bar"}, spans(goSource, got))
}

func TestStructural_WholeNodeWithoutCaptures(t *testing.T) {
	m := New()
	defer m.Close()

	got, err := m.Match("demo.go", []byte(goSource), structuralQuery(`(call_expression)`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo()"}, spans(goSource, got))
}

func TestStructural_OutermostCapture(t *testing.T) {
	m := New()
	defer m.Close()

	got, err := m.Match("demo.go", []byte(goSource), structuralQuery(`(function_declaration name: (identifier) @name) @fn`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "func Foo() int { return 1 }", goSource[got[0].Start:got[0].End])
}

func TestStructural_InvalidQuery(t *testing.T) {
	m := New()
	defer m.Close()

	_, err := m.Match("demo.go", []byte(goSource), structuralQuery(`(not_a_real_node`))
	var searchErr *sifterrors.SearchError
	require.True(t, errors.As(err, &searchErr))
}

func TestStructural_UnsupportedFile(t *testing.T) {
	m := New()
	defer m.Close()

	_, err := m.Match("notes.txt", []byte("hello"), structuralQuery(`(identifier)`))
	assert.Error(t, err)
}

func TestStructural_QueryCacheSharedAcrossFiles(t *testing.T) {
	s := NewStructural()
	defer s.Close()

	for _, id := range []types.FileID{"a.go", "b.go"} {
		_, err := s.Match(id, []byte(goSource), `(identifier) @match`)
		require.NoError(t, err)
	}
	assert.Len(t, s.queries, 1)

	_, err := s.Match("c.py", []byte("def f():\n    pass\n"), `(identifier) @match`)
	require.NoError(t, err)
	assert.Len(t, s.queries, 2, "queries are compiled per grammar")
}
