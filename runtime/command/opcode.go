// Package command implements the textual command layer of the vault
// history: the opcode manifest, the line lexer and argument encoder,
// padding generation, and share-prefix handling.
//
// A history line has the form `<opcode> <arg1> <arg2> …` with an
// optional leading `$<uuid>` share prefix. Arguments that are not
// purely alphanumeric are wrapped in double quotes with embedded
// quotes doubled.
package command

// Opcode identifies a history mutation command.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Header commands
	OpFormat  // fmt - set format tag
	OpVaultID // aid - set vault ID

	// No-ops
	OpComment // cmm - comment
	OpPad     // pad - padding nonce

	// Group commands
	OpCreateGroup          // cgr - create group (parentID, groupID)
	OpSetGroupTitle        // tgr - set group title
	OpMoveGroup            // mgr - move group (groupID, newParentID)
	OpDeleteGroup          // dgr - delete group
	OpSetGroupAttribute    // sga - set group attribute
	OpDeleteGroupAttribute // dga - delete group attribute

	// Entry commands
	OpCreateEntry             // cen - create entry (groupID, entryID)
	OpMoveEntry               // men - move entry (entryID, groupID)
	OpDeleteEntry             // den - delete entry
	OpSetEntryProperty        // sep - set entry property
	OpSetEntryMeta            // sem - legacy alias of sep
	OpDeleteEntryProperty     // dep - delete entry property
	OpDeleteEntryMeta         // dem - legacy alias of dep
	OpSetEntryAttribute       // sea - set entry attribute
	OpDeleteEntryAttribute    // dea - delete entry attribute

	// Vault commands
	OpSetVaultAttribute    // saa - set vault attribute
	OpDeleteVaultAttribute // daa - delete vault attribute
)

type opcodeSpec struct {
	name        string
	arity       int
	destructive bool
}

// The manifest. Indexed by Opcode; OpInvalid holds a zero entry.
var opcodeTable = [...]opcodeSpec{
	OpInvalid:              {},
	OpFormat:               {name: "fmt", arity: 1},
	OpVaultID:              {name: "aid", arity: 1},
	OpComment:              {name: "cmm", arity: 1},
	OpPad:                  {name: "pad", arity: 1},
	OpCreateGroup:          {name: "cgr", arity: 2},
	OpSetGroupTitle:        {name: "tgr", arity: 2},
	OpMoveGroup:            {name: "mgr", arity: 2},
	OpDeleteGroup:          {name: "dgr", arity: 1, destructive: true},
	OpSetGroupAttribute:    {name: "sga", arity: 3},
	OpDeleteGroupAttribute: {name: "dga", arity: 2, destructive: true},
	OpCreateEntry:          {name: "cen", arity: 2},
	OpMoveEntry:            {name: "men", arity: 2},
	OpDeleteEntry:          {name: "den", arity: 1, destructive: true},
	OpSetEntryProperty:     {name: "sep", arity: 3},
	OpSetEntryMeta:         {name: "sem", arity: 3},
	OpDeleteEntryProperty:  {name: "dep", arity: 2, destructive: true},
	OpDeleteEntryMeta:      {name: "dem", arity: 2, destructive: true},
	OpSetEntryAttribute:    {name: "sea", arity: 3},
	OpDeleteEntryAttribute: {name: "dea", arity: 2, destructive: true},
	OpSetVaultAttribute:    {name: "saa", arity: 2},
	OpDeleteVaultAttribute: {name: "daa", arity: 1, destructive: true},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, spec := range opcodeTable {
		if spec.name != "" {
			m[spec.name] = Opcode(op)
		}
	}
	return m
}()

// Lookup resolves a 3-letter opcode name.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the wire name of the opcode.
func (op Opcode) String() string {
	if op <= OpInvalid || int(op) >= len(opcodeTable) {
		return "???"
	}
	return opcodeTable[op].name
}

// Arity returns the number of arguments the opcode takes.
func (op Opcode) Arity() int {
	return opcodeTable[op].arity
}

// Destructive reports whether the opcode removes state. Destructive
// commands are stripped from the weaker side of a merge.
func (op Opcode) Destructive() bool {
	return opcodeTable[op].destructive
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op > OpInvalid && int(op) < len(opcodeTable)
}
