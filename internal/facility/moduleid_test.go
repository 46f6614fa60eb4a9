package facility

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModuleIDPrependsRoot(t *testing.T) {
	require.Equal(t, ModuleID{"root", "a", "b"}, ParseModuleID("a.b"))
	require.Equal(t, ModuleID{"root"}, ParseModuleID(""))
	require.Equal(t, ModuleID{"root", "a", "b"}, ParseModuleID("root.a.b"))
}

func TestModuleIDStringRoundTrip(t *testing.T) {
	cases := []string{"a.b.c", "a", ""}
	for _, c := range cases {
		require.Equal(t, c, ParseModuleID(c).String(), "case %q", c)
	}
	require.Equal(t, "", ParseModuleID("root").String())
}

func TestModuleIDPrefixes(t *testing.T) {
	m := ParseModuleID("a.b.c")
	want := []ModuleID{
		{"root", "a", "b", "c"},
		{"root", "a", "b"},
		{"root", "a"},
		{"root"},
	}
	require.Equal(t, want, m.prefixes())
}

func TestModuleIDIsRoot(t *testing.T) {
	require.True(t, ParseModuleID("").IsRoot())
	require.False(t, ParseModuleID("a").IsRoot())
}
