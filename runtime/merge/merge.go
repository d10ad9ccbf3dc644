// Package merge reconciles two vault histories that diverged from a
// common base, for example after offline edits on two devices.
//
// The merge keeps the local tail verbatim and conservatively strips
// destructive commands from the remote tail: a concurrent delete is
// dropped so concurrent edits on the deleted item are not lost. The
// combined history is re-validated by replay; any command that no
// longer applies is demoted to a comment, preserving auditability.
package merge

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aledsdavies/lockbook/runtime/command"
	"github.com/aledsdavies/lockbook/runtime/engine"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// ErrNoCommonRoot means the two histories share no valid common
// prefix: the shared part lacks the fmt/aid header.
var ErrNoCommonRoot = errors.New("merge: histories share no common root")

// Merger merges format-A histories.
type Merger struct {
	log logrus.FieldLogger
}

// New returns a Merger logging to the standard logger.
func New() *Merger {
	return &Merger{log: logrus.StandardLogger()}
}

// SetLogger replaces the merger's logger.
func (m *Merger) SetLogger(log logrus.FieldLogger) { m.log = log }

// Merge reconciles two histories sharing a common prefix. The local
// side is the stronger one: its tail survives untouched, while the
// remote tail loses its destructive commands.
func (m *Merger) Merge(local, remote []string) ([]string, error) {
	prefix := commonPrefix(local, remote)
	if !hasValidRoot(prefix) {
		return nil, fmt.Errorf("%w: common prefix of %d lines lacks fmt/aid", ErrNoCommonRoot, len(prefix))
	}

	localTail := dropPadding(local[len(prefix):])
	remoteTail := PrepareRemoteHistory(dropPadding(remote[len(prefix):]))

	merged := make([]string, 0, len(prefix)+len(localTail)+len(remoteTail))
	merged = append(merged, prefix...)
	merged = append(merged, localTail...)
	merged = append(merged, remoteTail...)

	validated := m.revalidate(merged)

	m.log.WithFields(logrus.Fields{
		"prefix": len(prefix),
		"local":  len(localTail),
		"remote": len(remoteTail),
	}).Info("histories merged")

	return withPadding(validated), nil
}

// PrepareRemoteHistory strips destructive commands (dgr, dga, den,
// dep, dem, dea, daa) from the weaker side of a merge. Creates, sets,
// and moves survive. Unlexable lines pass through for revalidation to
// demote.
func PrepareRemoteHistory(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cmd, err := command.Parse(line)
		if err == nil && cmd.Op.Destructive() {
			continue
		}
		out = append(out, line)
	}
	return out
}

// revalidate replays the merged history onto an empty tree, demoting
// every line that fails to lex or execute into a comment.
func (m *Merger) revalidate(lines []string) []string {
	scratch := tree.New()
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cmd, err := command.Parse(line)
		if err == nil {
			err = engine.Apply(scratch, cmd)
		}
		if err != nil {
			m.log.WithError(err).WithField("line", line).Warn("command demoted during merge")
			out = append(out, command.New(command.OpComment, line).String())
			continue
		}
		out = append(out, line)
	}
	return out
}

// commonPrefix returns the longest shared prefix of a and b.
func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// hasValidRoot reports whether the prefix opens with fmt then aid
// among its non-pad base commands.
func hasValidRoot(prefix []string) bool {
	var header []command.Opcode
	for _, line := range prefix {
		cmd, err := command.Parse(line)
		if err != nil || cmd.Op == command.OpPad || cmd.ShareID != "" {
			continue
		}
		header = append(header, cmd.Op)
		if len(header) == 2 {
			break
		}
	}
	return len(header) == 2 && header[0] == command.OpFormat && header[1] == command.OpVaultID
}

// dropPadding removes pad lines from a tail before concatenation;
// padding is regenerated on the merged result.
func dropPadding(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cmd, err := command.Parse(line)
		if err == nil && cmd.Op == command.OpPad {
			continue
		}
		out = append(out, line)
	}
	return out
}

// withPadding interleaves fresh pad lines so no two meaningful
// commands are adjacent and no two pads are adjacent. Padding
// failures are dropped silently.
func withPadding(lines []string) []string {
	out := make([]string, 0, len(lines)*2)
	for i, line := range lines {
		out = append(out, line)
		if i == len(lines)-1 {
			break
		}
		cmd, err := command.Parse(line)
		if err == nil && cmd.Op == command.OpPad {
			continue
		}
		next, err := command.Parse(lines[i+1])
		if err == nil && next.Op == command.OpPad {
			continue
		}
		pad, err := command.NewPad()
		if err != nil {
			continue
		}
		out = append(out, pad.String())
	}
	return out
}
