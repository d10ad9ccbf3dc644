package engine

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/lockbook/runtime/command"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// treeEquiv compares two vault trees structurally, ignoring property
// history (timestamps differ between replays by design).
func treeEquiv(t *testing.T, want, got *tree.Vault) {
	t.Helper()
	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(tree.Entry{}, "History"))
	if diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func newInitialised(t *testing.T) *Format {
	t.Helper()
	f := New()
	require.NoError(t, f.Initialise())
	return f
}

func TestInitialise_EmitsHeader(t *testing.T) {
	f := New()

	// WHEN: A fresh engine initialises
	require.NoError(t, f.Initialise())

	// THEN: The history is exactly fmt then aid, no padding
	lines := f.HistoryLines()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "fmt "), "line %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "aid "), "line %q", lines[1])
	assert.Equal(t, StateInitialised, f.State())
	assert.NotEmpty(t, f.Tree().ID)
	assert.Equal(t, 1, f.Tree().FormatTag)
}

func TestInitialise_Twice(t *testing.T) {
	f := newInitialised(t)
	assert.ErrorIs(t, f.Initialise(), ErrAlreadyLoaded)
}

func TestExecute_RequiresInitialise(t *testing.T) {
	f := New()
	err := f.Execute(command.New(command.OpCreateGroup, "0", "G1"))
	assert.ErrorIs(t, err, ErrNotInitialised)
}

func TestCreateAndRead(t *testing.T) {
	// GIVEN: An initialised vault
	f := newInitialised(t)

	// WHEN: We build a group with one entry
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.SetGroupTitle("G1", "Home"))
	require.NoError(t, f.CreateEntry("G1", "E1"))
	require.NoError(t, f.SetEntryProperty("E1", "username", "alice"))

	// THEN: The tree holds exactly one root group with one entry
	v := f.Tree()
	require.Len(t, v.Groups, 1)
	g := v.Groups[0]
	assert.Equal(t, "Home", g.Title)
	require.Len(t, g.Entries, 1)
	assert.Equal(t, "alice", g.Entries[0].Properties["username"])
}

func TestExecute_AppendsPadding(t *testing.T) {
	f := newInitialised(t)

	require.NoError(t, f.CreateGroup("0", "G1"))

	lines := f.HistoryLines()
	// fmt, aid, cgr, pad
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[3], "pad "), "line %q", lines[3])

	// Consecutive executes never produce adjacent pads
	require.NoError(t, f.SetGroupTitle("G1", "Home"))
	lines = f.HistoryLines()
	for i := 1; i < len(lines); i++ {
		double := strings.HasPrefix(lines[i-1], "pad ") && strings.HasPrefix(lines[i], "pad ")
		assert.False(t, double, "adjacent pads at %d", i)
	}
}

func TestExecute_UnknownID_NoPartialMutation(t *testing.T) {
	f := newInitialised(t)
	before := f.HistoryLines()

	// WHEN: A command references a nonexistent entry
	err := f.SetEntryProperty("UNKNOWN", "password", "x")

	// THEN: Replay fails with the unknown-ID error and nothing changed
	assert.ErrorIs(t, err, ErrUnknownID)
	var replay *ReplayError
	require.ErrorAs(t, err, &replay)
	assert.Equal(t, "UNKNOWN", replay.ID)
	assert.Equal(t, before, f.HistoryLines())
	assert.Empty(t, f.Tree().Groups)
}

func TestExecute_DuplicateID(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.CreateEntry("G1", "E1"))

	assert.ErrorIs(t, f.CreateGroup("0", "G1"), ErrDuplicateID)
	// Entry IDs collide with group IDs too: uniqueness is tree-wide
	assert.ErrorIs(t, f.CreateGroup("0", "E1"), ErrDuplicateID)
	assert.ErrorIs(t, f.CreateEntry("G1", "G1"), ErrDuplicateID)
}

func TestExecute_MissingParent(t *testing.T) {
	f := newInitialised(t)
	assert.ErrorIs(t, f.CreateGroup("missing", "G1"), ErrMissingParent)
	assert.ErrorIs(t, f.CreateEntry("missing", "E1"), ErrMissingParent)
}

func TestMoveGroup_RejectsCycle(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.CreateGroup("G1", "G2"))

	assert.ErrorIs(t, f.MoveGroup("G1", "G2"), ErrCycle)
	assert.ErrorIs(t, f.MoveGroup("G1", "G1"), ErrCycle)

	// A legal reparent still works
	require.NoError(t, f.MoveGroup("G2", "0"))
	assert.Len(t, f.Tree().Groups, 2)
}

func TestMoveEntry(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.CreateGroup("0", "G2"))
	require.NoError(t, f.CreateEntry("G1", "E1"))

	require.NoError(t, f.MoveEntry("E1", "G2"))

	e := f.Tree().FindEntry("E1")
	require.NotNil(t, e)
	assert.Equal(t, "G2", e.ParentGroupID)
	assert.Empty(t, f.Tree().FindGroup("G1").Entries)
}

func TestPropertyHistory_Chains(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.CreateEntry("G1", "E1"))

	require.NoError(t, f.SetEntryProperty("E1", "password", "one"))
	require.NoError(t, f.SetEntryProperty("E1", "password", "two"))
	require.NoError(t, f.DeleteEntryProperty("E1", "password"))
	require.NoError(t, f.SetEntryProperty("E1", "password", "three"))

	e := f.Tree().FindEntry("E1")
	require.Len(t, e.History, 4)

	// Old of item k equals New of item k-1 for the same property
	assert.Nil(t, e.History[0].Old)
	assert.Equal(t, "one", *e.History[0].New)
	assert.Equal(t, "one", *e.History[1].Old)
	assert.Equal(t, "two", *e.History[1].New)
	assert.Equal(t, "two", *e.History[2].Old)
	assert.Nil(t, e.History[2].New)
	assert.Nil(t, e.History[3].Old)
	assert.Equal(t, "three", *e.History[3].New)
}

func TestExecuteLine_LegacyPropertyAliases(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.CreateEntry("G1", "E1"))

	// sem/dem are the legacy spellings of sep/dep
	require.NoError(t, f.ExecuteLine("sem E1 username alice"))
	assert.Equal(t, "alice", f.Tree().FindEntry("E1").Properties["username"])

	require.NoError(t, f.ExecuteLine("dem E1 username"))
	_, ok := f.Tree().FindEntry("E1").Properties["username"]
	assert.False(t, ok)
}

func TestReadOnly_FreezesExecute(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))

	f.SetReadOnly(true)
	assert.Equal(t, StateReadOnly, f.State())

	assert.ErrorIs(t, f.CreateGroup("0", "G2"), ErrReadOnly)
	assert.ErrorIs(t, f.SetGroupTitle("G1", "X"), ErrReadOnly)
	assert.ErrorIs(t, f.Optimise(), ErrReadOnly)

	f.SetReadOnly(false)
	assert.Equal(t, StateMutable, f.State())
	require.NoError(t, f.CreateGroup("0", "G2"))
}

func TestLoadHistory_RoundTrip(t *testing.T) {
	// GIVEN: A populated vault
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	require.NoError(t, f.SetGroupTitle("G1", "Home Banking"))
	require.NoError(t, f.CreateEntry("G1", "E1"))
	require.NoError(t, f.SetEntryProperty("E1", "username", "alice"))
	require.NoError(t, f.SetEntryProperty("E1", "password", `p@ss "word"`))
	require.NoError(t, f.SetVaultAttribute("colour", "blue"))

	// WHEN: Its history text replays into a fresh engine
	g := New()
	require.NoError(t, g.LoadHistory(strings.Split(f.HistoryText(), "\n")))

	// THEN: The trees are structurally equal
	treeEquiv(t, f.Tree(), g.Tree())
	assert.Equal(t, StateInitialised, g.State())
}

func TestLoadHistory_RejectsBadHeader(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"missing aid", []string{"fmt 1", "cgr 0 G1"}},
		{"aid before fmt", []string{"aid v1", "fmt 1"}},
		{"empty", nil},
		{"only pads", []string{"pad aaaa", "pad bbbb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New()
			assert.ErrorIs(t, f.LoadHistory(tt.lines), ErrInvalidHistory)
		})
	}
}

func TestLoadHistory_PadsBeforeHeaderAllowed(t *testing.T) {
	f := New()
	require.NoError(t, f.LoadHistory([]string{"pad aaaa", "fmt 1", "aid v1"}))
	assert.Equal(t, "v1", f.Tree().ID)
}

func TestLoadHistory_ShareLines(t *testing.T) {
	const share = "11111111-2222-3333-4444-555555555555"
	f := New()
	require.NoError(t, f.LoadHistory([]string{
		"fmt 1",
		"aid v1",
		"$" + share + " cgr 0 SG1",
		"$" + share + " cen SG1 SE1",
	}))

	g := f.Tree().FindGroup("SG1")
	require.NotNil(t, g)
	assert.Equal(t, share, g.ShareID)
	e := f.Tree().FindEntry("SE1")
	require.NotNil(t, e)
	assert.Equal(t, share, e.ShareID)
}

func TestClear_ReturnsToEmpty(t *testing.T) {
	f := newInitialised(t)
	require.NoError(t, f.CreateGroup("0", "G1"))
	f.Seal()
	assert.Equal(t, StateSealed, f.State())

	f.Clear()

	assert.Equal(t, StateEmpty, f.State())
	assert.Empty(t, f.History())
	assert.Empty(t, f.Tree().Groups)
	require.NoError(t, f.Initialise())
}

type recordingListener struct {
	events []Event
}

func (r *recordingListener) HandleVaultEvent(ev Event) { r.events = append(r.events, ev) }

func TestExecute_EmitsCommandsExecutedOncePerBatch(t *testing.T) {
	f := newInitialised(t)
	rec := &recordingListener{}
	f.AddListener(rec)

	batch := []command.Command{
		command.New(command.OpCreateGroup, "0", "G1"),
		command.New(command.OpSetGroupTitle, "G1", "Home"),
	}
	require.NoError(t, f.Execute(batch...))

	require.Len(t, rec.events, 1)
	executed, ok := rec.events[0].(CommandsExecuted)
	require.True(t, ok)
	assert.Len(t, executed.Commands, 2)
}

func TestDirtyTracking(t *testing.T) {
	f := newInitialised(t)
	assert.False(t, f.Dirty())

	require.NoError(t, f.CreateGroup("0", "G1"))
	assert.True(t, f.Dirty())

	f.MarkClean()
	assert.False(t, f.Dirty())
}
