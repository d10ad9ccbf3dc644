package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/command"
	"github.com/aledsdavies/lockbook/runtime/envelope"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// formatATag is the value the fmt command writes for format A.
const formatATag = "1"

// State tracks the engine lifecycle:
//
//	Empty → Initialised → Mutable ↔ ReadOnly → Sealed
type State int

const (
	StateEmpty State = iota
	StateInitialised
	StateMutable
	StateReadOnly
	StateSealed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInitialised:
		return "initialised"
	case StateMutable:
		return "mutable"
	case StateReadOnly:
		return "read-only"
	case StateSealed:
		return "sealed"
	}
	return "unknown"
}

// Event is a typed engine notification.
type Event interface{ isEvent() }

// CommandsExecuted fires once per Execute call, after the whole batch
// is applied and padding appended.
type CommandsExecuted struct {
	Commands []command.Command
}

// Updated fires after the enclosing source saves successfully.
type Updated struct{}

func (CommandsExecuted) isEvent() {}
func (Updated) isEvent()          {}

// Listener observes engine events.
type Listener interface {
	HandleVaultEvent(Event)
}

// Format owns a vault tree and the history it was replayed from. One
// Format instance is single-threaded cooperative: the embedder
// serializes Execute, load, save, and Optimise.
type Format struct {
	log       logrus.FieldLogger
	vault     *tree.Vault
	history   []command.Command
	state     State
	readOnly  bool
	dirty     bool
	listeners []Listener
}

// New returns an empty format engine.
func New() *Format {
	return &Format{
		log:   logrus.StandardLogger(),
		vault: tree.New(),
		state: StateEmpty,
	}
}

// SetLogger replaces the engine's logger.
func (f *Format) SetLogger(log logrus.FieldLogger) {
	invariant.NotNil(log, "log")
	f.log = log
}

// AddListener registers an event listener.
func (f *Format) AddListener(l Listener) {
	invariant.NotNil(l, "listener")
	f.listeners = append(f.listeners, l)
}

func (f *Format) emit(ev Event) {
	for _, l := range f.listeners {
		l.HandleVaultEvent(ev)
	}
}

// NotifyUpdated fires Updated to listeners. The enclosing vault source
// calls it after a successful save.
func (f *Format) NotifyUpdated() {
	f.emit(Updated{})
}

// GetFormat returns the format identity token.
func (f *Format) GetFormat() string { return envelope.Signature }

// State returns the engine's lifecycle state.
func (f *Format) State() State { return f.state }

// Tree exposes the engine's vault for facade building and search
// indexing. Callers must not mutate it; all writes go through Execute.
func (f *Format) Tree() *tree.Vault { return f.vault }

// Dirty reports whether the history changed since the last save.
func (f *Format) Dirty() bool { return f.dirty }

// ReadOnly reports whether mutation is frozen.
func (f *Format) ReadOnly() bool { return f.readOnly }

// SetReadOnly freezes or thaws Execute. The flag is authoritative;
// there is no bypass.
func (f *Format) SetReadOnly(readOnly bool) {
	f.readOnly = readOnly
	switch {
	case readOnly && f.state == StateMutable:
		f.state = StateReadOnly
	case !readOnly && f.state == StateReadOnly:
		f.state = StateMutable
	}
}

// Initialise emits the mandatory history header: a fmt command and an
// aid command with a fresh vault UUID. No padding is appended.
func (f *Format) Initialise() error {
	if f.state != StateEmpty {
		return fmt.Errorf("%w: cannot initialise in state %s", ErrAlreadyLoaded, f.state)
	}

	header := []command.Command{
		command.New(command.OpFormat, formatATag),
		command.New(command.OpVaultID, uuid.NewString()),
	}
	for _, cmd := range header {
		if err := f.apply(cmd); err != nil {
			return err
		}
	}
	f.state = StateInitialised
	f.log.WithField("vaultID", f.vault.ID).Debug("vault initialised")
	return nil
}

// Execute applies a batch of commands: each is lexed-or-given, routed
// to its executor, and appended to the history. Atomic per command: a
// failing executor appends nothing and mutates nothing. Unless the
// batch ends in a pad, one padding line is appended afterwards.
func (f *Format) Execute(cmds ...command.Command) error {
	if f.readOnly || f.state == StateSealed {
		return ErrReadOnly
	}
	if f.state == StateEmpty {
		return ErrNotInitialised
	}
	if len(cmds) == 0 {
		return nil
	}

	for _, cmd := range cmds {
		if err := f.apply(cmd); err != nil {
			return err
		}
	}

	if cmds[len(cmds)-1].Op != command.OpPad {
		f.appendPadding()
	}

	f.dirty = true
	f.state = StateMutable
	f.emit(CommandsExecuted{Commands: cmds})
	return nil
}

// ExecuteLine lexes one raw history line and executes it.
func (f *Format) ExecuteLine(line string) error {
	cmd, err := command.Parse(line)
	if err != nil {
		return err
	}
	return f.Execute(cmd)
}

// apply routes a command to its executor and appends it on success.
func (f *Format) apply(cmd command.Command) error {
	exec, ok := executors[cmd.Op]
	invariant.Invariant(ok, "no executor for opcode %s", cmd.Op)

	if err := exec(f.vault, ExecOptions{ShareID: cmd.ShareID}, cmd.Args); err != nil {
		return err
	}
	f.history = append(f.history, cmd)
	return nil
}

// appendPadding adds a pad line. Padding failures are non-fatal and
// dropped silently; padding is an obfuscation measure, not data.
func (f *Format) appendPadding() {
	pad, err := command.NewPad()
	if err != nil {
		f.log.WithError(err).Debug("padding dropped")
		return
	}
	f.history = append(f.history, pad)
}

// History returns a copy of the command history.
func (f *Format) History() []command.Command {
	out := make([]command.Command, len(f.history))
	copy(out, f.history)
	return out
}

// HistoryLines renders the history as wire lines.
func (f *Format) HistoryLines() []string {
	lines := make([]string, len(f.history))
	for i, cmd := range f.history {
		lines[i] = cmd.String()
	}
	return lines
}

// HistoryText renders the history as a newline-joined blob, the form
// that feeds the compressor on save.
func (f *Format) HistoryText() string {
	return strings.Join(f.HistoryLines(), "\n")
}

// LoadHistory replays a serialized history into an empty engine. The
// base history must open with fmt then aid (padding aside); share
// lines replay with their share ID in scope.
func (f *Format) LoadHistory(lines []string) error {
	if f.state != StateEmpty {
		return fmt.Errorf("%w: cannot load in state %s", ErrAlreadyLoaded, f.state)
	}

	cmds := make([]command.Command, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := command.Parse(line)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	if err := validateHeader(cmds); err != nil {
		return err
	}

	for _, cmd := range cmds {
		if err := f.apply(cmd); err != nil {
			return err
		}
	}
	f.state = StateInitialised
	f.log.WithFields(logrus.Fields{
		"vaultID":  f.vault.ID,
		"commands": len(cmds),
	}).Debug("history replayed")
	return nil
}

// validateHeader enforces the history invariant: among the base
// history's non-pad commands, the first is fmt and the second is aid.
func validateHeader(cmds []command.Command) error {
	var header []command.Opcode
	for _, cmd := range cmds {
		if cmd.Op == command.OpPad || cmd.ShareID != "" {
			continue
		}
		header = append(header, cmd.Op)
		if len(header) == 2 {
			break
		}
	}
	if len(header) < 2 || header[0] != command.OpFormat || header[1] != command.OpVaultID {
		return fmt.Errorf("%w: history must open with fmt then aid", ErrInvalidHistory)
	}
	return nil
}

// Seal marks the engine serialized. Further mutation requires Clear.
func (f *Format) Seal() {
	f.state = StateSealed
}

// MarkClean clears the dirty flag after a successful save.
func (f *Format) MarkClean() {
	f.dirty = false
}

// Clear erases the vault: history truncated to zero, tree cleared,
// state back to Empty.
func (f *Format) Clear() {
	f.vault.Clear()
	f.history = nil
	f.state = StateEmpty
	f.readOnly = false
	f.dirty = false
}

// Mutator wrappers. Each constructs the wire command through the
// encoder and delegates to Execute.

func (f *Format) CreateGroup(parentID, groupID string) error {
	return f.Execute(command.New(command.OpCreateGroup, parentID, groupID))
}

func (f *Format) SetGroupTitle(groupID, title string) error {
	return f.Execute(command.New(command.OpSetGroupTitle, groupID, title))
}

func (f *Format) MoveGroup(groupID, newParentID string) error {
	return f.Execute(command.New(command.OpMoveGroup, groupID, newParentID))
}

func (f *Format) DeleteGroup(groupID string) error {
	return f.Execute(command.New(command.OpDeleteGroup, groupID))
}

func (f *Format) SetGroupAttribute(groupID, key, value string) error {
	return f.Execute(command.New(command.OpSetGroupAttribute, groupID, key, value))
}

func (f *Format) DeleteGroupAttribute(groupID, key string) error {
	return f.Execute(command.New(command.OpDeleteGroupAttribute, groupID, key))
}

func (f *Format) CreateEntry(groupID, entryID string) error {
	return f.Execute(command.New(command.OpCreateEntry, groupID, entryID))
}

func (f *Format) MoveEntry(entryID, groupID string) error {
	return f.Execute(command.New(command.OpMoveEntry, entryID, groupID))
}

func (f *Format) DeleteEntry(entryID string) error {
	return f.Execute(command.New(command.OpDeleteEntry, entryID))
}

func (f *Format) SetEntryProperty(entryID, property, value string) error {
	return f.Execute(command.New(command.OpSetEntryProperty, entryID, property, value))
}

func (f *Format) DeleteEntryProperty(entryID, property string) error {
	return f.Execute(command.New(command.OpDeleteEntryProperty, entryID, property))
}

func (f *Format) SetEntryAttribute(entryID, key, value string) error {
	return f.Execute(command.New(command.OpSetEntryAttribute, entryID, key, value))
}

func (f *Format) DeleteEntryAttribute(entryID, key string) error {
	return f.Execute(command.New(command.OpDeleteEntryAttribute, entryID, key))
}

func (f *Format) SetVaultAttribute(key, value string) error {
	return f.Execute(command.New(command.OpSetVaultAttribute, key, value))
}

func (f *Format) DeleteVaultAttribute(key string) error {
	return f.Execute(command.New(command.OpDeleteVaultAttribute, key))
}
