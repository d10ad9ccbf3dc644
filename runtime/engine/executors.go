package engine

import (
	"strconv"
	"time"

	"github.com/aledsdavies/lockbook/runtime/command"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// ExecOptions parameterises one executor invocation. ShareID is the
// share the command belongs to; Now supplies property-history
// timestamps and defaults to the wall clock. Passing these explicitly
// keeps replay a pure function of (tree, history, share mapping).
type ExecOptions struct {
	ShareID string
	Now     func() int64
}

func (o ExecOptions) now() int64 {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UnixMilli()
}

// executorFunc applies one command to the tree. Every precondition is
// checked before the first mutation so a failing command leaves the
// tree untouched.
type executorFunc func(v *tree.Vault, opts ExecOptions, args []string) error

var executors = map[command.Opcode]executorFunc{
	command.OpFormat:               execFormat,
	command.OpVaultID:              execVaultID,
	command.OpComment:              execNoop,
	command.OpPad:                  execNoop,
	command.OpCreateGroup:          execCreateGroup,
	command.OpSetGroupTitle:        execSetGroupTitle,
	command.OpMoveGroup:            execMoveGroup,
	command.OpDeleteGroup:          execDeleteGroup,
	command.OpSetGroupAttribute:    execSetGroupAttribute,
	command.OpDeleteGroupAttribute: execDeleteGroupAttribute,
	command.OpCreateEntry:          execCreateEntry,
	command.OpMoveEntry:            execMoveEntry,
	command.OpDeleteEntry:          execDeleteEntry,
	command.OpSetEntryProperty:     execSetEntryProperty,
	command.OpSetEntryMeta:         execSetEntryProperty,
	command.OpDeleteEntryProperty:  execDeleteEntryProperty,
	command.OpDeleteEntryMeta:      execDeleteEntryProperty,
	command.OpSetEntryAttribute:    execSetEntryAttribute,
	command.OpDeleteEntryAttribute: execDeleteEntryAttribute,
	command.OpSetVaultAttribute:    execSetVaultAttribute,
	command.OpDeleteVaultAttribute: execDeleteVaultAttribute,
}

// Apply routes one command to its executor against a bare tree. The
// merge engine uses it to revalidate a candidate history without
// constructing a full Format.
func Apply(v *tree.Vault, cmd command.Command) error {
	exec, ok := executors[cmd.Op]
	if !ok {
		return replayErr(ErrBadArgument, cmd.Op, "")
	}
	return exec(v, ExecOptions{ShareID: cmd.ShareID}, cmd.Args)
}

func execNoop(*tree.Vault, ExecOptions, []string) error { return nil }

func execFormat(v *tree.Vault, _ ExecOptions, args []string) error {
	tag, err := strconv.Atoi(args[0])
	if err != nil {
		return replayErr(ErrBadArgument, command.OpFormat, args[0])
	}
	v.FormatTag = tag
	return nil
}

func execVaultID(v *tree.Vault, _ ExecOptions, args []string) error {
	v.ID = args[0]
	return nil
}

func execCreateGroup(v *tree.Vault, opts ExecOptions, args []string) error {
	parentID, groupID := args[0], args[1]
	if parentID != tree.RootParentID && v.FindGroup(parentID) == nil {
		return replayErr(ErrMissingParent, command.OpCreateGroup, parentID)
	}
	if v.ContainsID(groupID) {
		return replayErr(ErrDuplicateID, command.OpCreateGroup, groupID)
	}
	g := tree.NewGroup(groupID, parentID)
	g.ShareID = opts.ShareID
	v.AttachGroup(g)
	return nil
}

func execSetGroupTitle(v *tree.Vault, _ ExecOptions, args []string) error {
	g := v.FindGroup(args[0])
	if g == nil {
		return replayErr(ErrUnknownID, command.OpSetGroupTitle, args[0])
	}
	g.Title = args[1]
	return nil
}

func execMoveGroup(v *tree.Vault, _ ExecOptions, args []string) error {
	groupID, newParentID := args[0], args[1]
	g := v.FindGroup(groupID)
	if g == nil {
		return replayErr(ErrUnknownID, command.OpMoveGroup, groupID)
	}
	if newParentID != tree.RootParentID {
		parent := v.FindGroup(newParentID)
		if parent == nil {
			return replayErr(ErrMissingParent, command.OpMoveGroup, newParentID)
		}
		if g.IsDescendant(newParentID) {
			return replayErr(ErrCycle, command.OpMoveGroup, groupID)
		}
	}
	detached := v.DetachGroup(groupID)
	detached.ParentID = newParentID
	v.AttachGroup(detached)
	return nil
}

func execDeleteGroup(v *tree.Vault, _ ExecOptions, args []string) error {
	if v.DetachGroup(args[0]) == nil {
		return replayErr(ErrUnknownID, command.OpDeleteGroup, args[0])
	}
	return nil
}

func execSetGroupAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	g := v.FindGroup(args[0])
	if g == nil {
		return replayErr(ErrUnknownID, command.OpSetGroupAttribute, args[0])
	}
	g.Attributes[args[1]] = args[2]
	return nil
}

func execDeleteGroupAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	g := v.FindGroup(args[0])
	if g == nil {
		return replayErr(ErrUnknownID, command.OpDeleteGroupAttribute, args[0])
	}
	delete(g.Attributes, args[1])
	return nil
}

func execCreateEntry(v *tree.Vault, opts ExecOptions, args []string) error {
	groupID, entryID := args[0], args[1]
	g := v.FindGroup(groupID)
	if g == nil {
		return replayErr(ErrMissingParent, command.OpCreateEntry, groupID)
	}
	if v.ContainsID(entryID) {
		return replayErr(ErrDuplicateID, command.OpCreateEntry, entryID)
	}
	e := tree.NewEntry(entryID, groupID)
	e.ShareID = opts.ShareID
	g.Entries = append(g.Entries, e)
	return nil
}

func execMoveEntry(v *tree.Vault, _ ExecOptions, args []string) error {
	entryID, groupID := args[0], args[1]
	if v.FindEntry(entryID) == nil {
		return replayErr(ErrUnknownID, command.OpMoveEntry, entryID)
	}
	g := v.FindGroup(groupID)
	if g == nil {
		return replayErr(ErrMissingParent, command.OpMoveEntry, groupID)
	}
	e := v.DetachEntry(entryID)
	e.ParentGroupID = groupID
	g.Entries = append(g.Entries, e)
	return nil
}

func execDeleteEntry(v *tree.Vault, _ ExecOptions, args []string) error {
	if v.DetachEntry(args[0]) == nil {
		return replayErr(ErrUnknownID, command.OpDeleteEntry, args[0])
	}
	return nil
}

func execSetEntryProperty(v *tree.Vault, opts ExecOptions, args []string) error {
	e := v.FindEntry(args[0])
	if e == nil {
		return replayErr(ErrUnknownID, command.OpSetEntryProperty, args[0])
	}
	property, value := args[1], args[2]

	var old *string
	if prev, ok := e.Properties[property]; ok {
		prevCopy := prev
		old = &prevCopy
	}
	newCopy := value
	e.History = append(e.History, tree.PropertyChange{
		Property: property,
		Old:      old,
		New:      &newCopy,
		TS:       opts.now(),
	})
	e.Properties[property] = value
	return nil
}

func execDeleteEntryProperty(v *tree.Vault, opts ExecOptions, args []string) error {
	e := v.FindEntry(args[0])
	if e == nil {
		return replayErr(ErrUnknownID, command.OpDeleteEntryProperty, args[0])
	}
	property := args[1]
	prev, ok := e.Properties[property]
	if !ok {
		return nil
	}
	prevCopy := prev
	e.History = append(e.History, tree.PropertyChange{
		Property: property,
		Old:      &prevCopy,
		TS:       opts.now(),
	})
	delete(e.Properties, property)
	return nil
}

func execSetEntryAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	e := v.FindEntry(args[0])
	if e == nil {
		return replayErr(ErrUnknownID, command.OpSetEntryAttribute, args[0])
	}
	e.Attributes[args[1]] = args[2]
	return nil
}

func execDeleteEntryAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	e := v.FindEntry(args[0])
	if e == nil {
		return replayErr(ErrUnknownID, command.OpDeleteEntryAttribute, args[0])
	}
	delete(e.Attributes, args[1])
	return nil
}

func execSetVaultAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	v.Attributes[args[0]] = args[1]
	return nil
}

func execDeleteVaultAttribute(v *tree.Vault, _ ExecOptions, args []string) error {
	delete(v.Attributes, args[0])
	return nil
}
