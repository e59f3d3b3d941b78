package gka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runIka drives a full initial key agreement among members[0..n-1] and
// returns each participant's Member with a derived group key.
func runIka(t *testing.T, members []string) map[string]*Member {
	t.Helper()
	states := make(map[string]*Member, len(members))
	for _, id := range members {
		states[id] = NewMember(id)
	}

	msg, err := states[members[0]].Ika(members[1:])
	require.NoError(t, err)

	for !msg.Down {
		next := states[msg.Dest]
		msg, err = next.Upflow(msg)
		require.NoError(t, err)
	}

	// msg is now the final downflow broadcast; deliver to everyone
	// except its source, who already derived the key directly.
	for _, id := range members {
		if id == msg.Source {
			continue
		}
		require.NoError(t, states[id].Downflow(msg))
	}
	return states
}

func TestIkaAllMembersAgreeOnGroupKey(t *testing.T) {
	members := []string{"alice", "bob", "carol", "dave", "erin"}
	states := runIka(t, members)

	want := states["alice"].GroupKey()
	require.Len(t, want, 32)
	for _, id := range members {
		assert.Equal(t, want, states[id].GroupKey(), "member %s", id)
	}
}

func TestAkaJoinExtendsGroup(t *testing.T) {
	members := []string{"alice", "bob", "carol"}
	states := runIka(t, members)
	oldKey := states["alice"].GroupKey()

	msg, err := states["alice"].AkaJoin([]string{"dave"})
	require.NoError(t, err)
	states["dave"] = NewMember("dave")

	for !msg.Down {
		next := states[msg.Dest]
		msg, err = next.Upflow(msg)
		require.NoError(t, err)
	}

	for _, id := range append(append([]string{}, members...), "dave") {
		if id == msg.Source {
			continue
		}
		require.NoError(t, states[id].Downflow(msg))
	}

	newKey := states["alice"].GroupKey()
	assert.NotEqual(t, oldKey, newKey)
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		assert.Equal(t, newKey, states[id].GroupKey())
		assert.Contains(t, states[id].Members(), "dave")
	}
}

func TestAkaExcludeRemovesMember(t *testing.T) {
	members := []string{"alice", "bob", "carol", "dave"}
	states := runIka(t, members)

	msg, err := states["alice"].AkaExclude([]string{"bob"})
	require.NoError(t, err)

	for _, id := range []string{"carol", "dave"} {
		require.NoError(t, states[id].Downflow(msg))
	}

	for _, id := range []string{"alice", "carol", "dave"} {
		assert.Equal(t, states["alice"].GroupKey(), states[id].GroupKey())
		assert.NotContains(t, states[id].Members(), "bob")
	}
}

func TestAkaExcludeRejectsSelfExclusion(t *testing.T) {
	members := []string{"alice", "bob"}
	states := runIka(t, members)
	_, err := states["alice"].AkaExclude([]string{"alice"})
	assert.Error(t, err)
}

func TestAkaExcludeRejectsNonMember(t *testing.T) {
	members := []string{"alice", "bob"}
	states := runIka(t, members)
	_, err := states["alice"].AkaExclude([]string{"zara"})
	assert.Error(t, err)
}

func TestAkaRefreshChangesGroupKey(t *testing.T) {
	members := []string{"alice", "bob", "carol"}
	states := runIka(t, members)
	oldKey := states["alice"].GroupKey()

	msg, err := states["alice"].AkaRefresh()
	require.NoError(t, err)

	for _, id := range []string{"bob", "carol"} {
		require.NoError(t, states[id].Downflow(msg))
	}

	newKey := states["alice"].GroupKey()
	assert.NotEqual(t, oldKey, newKey)
	assert.Equal(t, newKey, states["bob"].GroupKey())
	assert.Equal(t, newKey, states["carol"].GroupKey())
}

func TestIntKeysSizeInvariant(t *testing.T) {
	members := []string{"alice", "bob", "carol"}
	states := runIka(t, members)
	for _, id := range members {
		assert.Len(t, states[id].intKeys, len(members))
	}
}

func TestIkaRejectsDuplicateMembers(t *testing.T) {
	m := NewMember("alice")
	_, err := m.Ika([]string{"bob", "bob"})
	assert.Error(t, err)
}

func TestIkaRejectsEmptyMemberSet(t *testing.T) {
	m := NewMember("alice")
	_, err := m.Ika(nil)
	assert.Error(t, err)
}
