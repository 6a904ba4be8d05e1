package receiver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crowdlink/internal/protocol"
)

func TestDiffFilterSuppressesRepeat(t *testing.T) {
	f := NewDiffFilter()

	first := f.Apply("conn-1", protocol.ResultVisible, []string{"summon", "heal"})
	require.ElementsMatch(t, []string{"summon", "heal"}, first)

	second := f.Apply("conn-1", protocol.ResultVisible, []string{"summon", "heal"})
	require.Nil(t, second)
}

func TestDiffFilterAllowsRealTransition(t *testing.T) {
	f := NewDiffFilter()

	f.Apply("conn-1", protocol.ResultVisible, []string{"summon"})
	changed := f.Apply("conn-1", protocol.ResultNotVisible, []string{"summon"})
	require.Equal(t, []string{"summon"}, changed)
}

func TestDiffFilterIsPerConnection(t *testing.T) {
	f := NewDiffFilter()

	f.Apply("conn-1", protocol.ResultVisible, []string{"summon"})
	changed := f.Apply("conn-2", protocol.ResultVisible, []string{"summon"})
	require.Equal(t, []string{"summon"}, changed)
}

func TestDiffFilterTracksVisibleAndSelectableIndependently(t *testing.T) {
	f := NewDiffFilter()

	f.Apply("conn-1", protocol.ResultVisible, []string{"summon"})
	changed := f.Apply("conn-1", protocol.ResultSelectable, []string{"summon"})
	require.Equal(t, []string{"summon"}, changed)
}

func TestDiffFilterPartialChangeOnlyReturnsChanged(t *testing.T) {
	f := NewDiffFilter()

	f.Apply("conn-1", protocol.ResultVisible, []string{"summon", "heal"})
	changed := f.Apply("conn-1", protocol.ResultVisible, []string{"summon", "curse"})
	require.Equal(t, []string{"curse"}, changed)
}

func TestDiffFilterForget(t *testing.T) {
	f := NewDiffFilter()

	f.Apply("conn-1", protocol.ResultVisible, []string{"summon"})
	f.Forget("conn-1")

	changed := f.Apply("conn-1", protocol.ResultVisible, []string{"summon"})
	require.Equal(t, []string{"summon"}, changed)
}
