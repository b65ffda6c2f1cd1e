package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Assign(t *testing.T) {
	tbl := NewTable()

	require.Equal(t, "unit-0", tbl.Assign("m1", "unit-0"))

	owner, ok := tbl.Owner("m1")
	require.True(t, ok)
	require.Equal(t, "unit-0", owner)

	require.Equal(t, "unit-0", tbl.Assign("m1", "unit-1"), "first assignment should win")

	_, ok = tbl.Owner("m2")
	require.False(t, ok)
}

func TestTable_Bind(t *testing.T) {
	tbl := NewTable()
	tbl.Assign("m1", "unit-0")

	tbl.Bind("m1", "s1", "u1")
	tbl.Bind("m1", "s2", "u2")

	matchID, ok := tbl.MatchBySocket("s1")
	require.True(t, ok)
	require.Equal(t, "m1", matchID)

	assert.ElementsMatch(t, []string{"s1", "s2"}, tbl.SocketsForMatch("m1"))
	assert.ElementsMatch(t, []string{"s2"}, tbl.SocketsForMatch("m1", "s1"))

	// Reconnect: the user comes back on a new socket, the old handle dies.
	tbl.Bind("m1", "s1b", "u1")

	_, ok = tbl.MatchBySocket("s1")
	require.False(t, ok, "the replaced socket should be unbound")
	assert.ElementsMatch(t, []string{"s1b", "s2"}, tbl.SocketsForMatch("m1"))
}

func TestTable_BindUnknownMatch(t *testing.T) {
	tbl := NewTable()

	tbl.Bind("m1", "s1", "u1")

	_, ok := tbl.MatchBySocket("s1")
	require.False(t, ok, "binding to an unassigned match should be a no-op")
}

func TestTable_UnbindSocket(t *testing.T) {
	tbl := NewTable()
	tbl.Assign("m1", "unit-0")
	tbl.Bind("m1", "s1", "u1")
	tbl.Bind("m1", "s2", "u2")

	tbl.UnbindSocket("s1")

	_, ok := tbl.MatchBySocket("s1")
	require.False(t, ok)
	assert.ElementsMatch(t, []string{"s2"}, tbl.SocketsForMatch("m1"))

	owner, ok := tbl.Owner("m1")
	require.True(t, ok, "a disconnect should not drop the route")
	require.Equal(t, "unit-0", owner)

	tbl.UnbindSocket("s1") // already gone, should not panic
}

func TestTable_Remove(t *testing.T) {
	tbl := NewTable()
	tbl.Assign("m1", "unit-0")
	tbl.Bind("m1", "s1", "u1")
	tbl.Bind("m1", "s2", "u2")

	tbl.Remove("m1")

	require.Equal(t, 0, tbl.Len())
	_, ok := tbl.Owner("m1")
	require.False(t, ok)
	_, ok = tbl.MatchBySocket("s1")
	require.False(t, ok, "removal should drop every socket index entry")
	require.Empty(t, tbl.SocketsForMatch("m1"))
}
