package engine

import (
	"sort"
	"strconv"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/command"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// flattenThreshold is the history length beyond which flattening is
// always worthwhile.
const flattenThreshold = 1000

// CanBeFlattened reports whether Optimise would shorten the history:
// true when the history is long or contains any destructive command.
func (f *Format) CanBeFlattened() bool {
	if len(f.history) >= flattenThreshold {
		return true
	}
	for _, cmd := range f.history {
		if cmd.Op.Destructive() {
			return true
		}
	}
	return false
}

// Optimise rewrites the history as a minimal construction sequence for
// the current tree: fmt, aid, vault attributes, then each group
// pre-order (cgr, tgr, sga…) with its entries (cen, sep…, sea…).
// Per-property history starts fresh afterwards.
func (f *Format) Optimise() error {
	if f.readOnly {
		return ErrReadOnly
	}
	if f.state == StateEmpty {
		return ErrNotInitialised
	}

	cmds := emitTree(f.vault)

	// Replay the minimal sequence onto a fresh tree. This both
	// rebuilds property history from a clean slate and proves the
	// emitted sequence is self-consistent.
	rebuilt := tree.New()
	for _, cmd := range cmds {
		exec := executors[cmd.Op]
		err := exec(rebuilt, ExecOptions{ShareID: cmd.ShareID}, cmd.Args)
		invariant.ExpectNoError(err, "replay of flattened history")
	}

	before := len(f.history)
	f.vault = rebuilt
	f.history = cmds
	f.dirty = true
	f.log.WithFields(map[string]interface{}{
		"before": before,
		"after":  len(cmds),
	}).Debug("history flattened")
	return nil
}

// emitTree renders a vault as its minimal construction sequence.
func emitTree(v *tree.Vault) []command.Command {
	cmds := []command.Command{
		command.New(command.OpFormat, strconv.Itoa(v.FormatTag)),
		command.New(command.OpVaultID, v.ID),
	}
	for _, key := range sortedKeys(v.Attributes) {
		cmds = append(cmds, command.New(command.OpSetVaultAttribute, key, v.Attributes[key]))
	}

	v.WalkGroups(func(g *tree.Group) bool {
		cmds = append(cmds, shareCmd(g.ShareID, command.OpCreateGroup, g.ParentID, g.ID))
		if g.Title != "" {
			cmds = append(cmds, shareCmd(g.ShareID, command.OpSetGroupTitle, g.ID, g.Title))
		}
		for _, key := range sortedKeys(g.Attributes) {
			cmds = append(cmds, shareCmd(g.ShareID, command.OpSetGroupAttribute, g.ID, key, g.Attributes[key]))
		}
		for _, e := range g.Entries {
			cmds = append(cmds, shareCmd(e.ShareID, command.OpCreateEntry, g.ID, e.ID))
			for _, key := range sortedKeys(e.Properties) {
				cmds = append(cmds, shareCmd(e.ShareID, command.OpSetEntryProperty, e.ID, key, e.Properties[key]))
			}
			for _, key := range sortedKeys(e.Attributes) {
				cmds = append(cmds, shareCmd(e.ShareID, command.OpSetEntryAttribute, e.ID, key, e.Attributes[key]))
			}
		}
		return true
	})
	return cmds
}

func shareCmd(shareID string, op command.Opcode, args ...string) command.Command {
	cmd := command.New(op, args...)
	cmd.ShareID = shareID
	return cmd
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
