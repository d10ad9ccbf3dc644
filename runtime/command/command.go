package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/cipher"
)

// Sentinel lex errors.
var (
	ErrUnterminated  = errors.New("command: unterminated quoted argument")
	ErrUnknownOpcode = errors.New("command: unknown opcode")
	ErrBadArity      = errors.New("command: wrong argument count")
	ErrBadShareID    = errors.New("command: malformed share ID")
	ErrEmptyLine     = errors.New("command: empty line")
)

var (
	rawArgPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	uuidPattern   = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// padNonceLength is the size of the nonce carried by a padding line.
const padNonceLength = 16

// Command is one parsed history line.
type Command struct {
	// ShareID is the owning share's UUID, or "" for the base history.
	ShareID string
	Op      Opcode
	Args    []string
}

// Parse lexes a single history line into a Command.
func Parse(line string) (Command, error) {
	rest := strings.TrimRight(line, "\r")
	if strings.TrimSpace(rest) == "" {
		return Command{}, ErrEmptyLine
	}

	var shareID string
	if strings.HasPrefix(rest, "$") {
		cut := strings.IndexAny(rest, " \t")
		if cut < 0 {
			return Command{}, fmt.Errorf("%w: %q", ErrBadShareID, rest)
		}
		shareID = rest[1:cut]
		if !uuidPattern.MatchString(shareID) {
			return Command{}, fmt.Errorf("%w: %q", ErrBadShareID, shareID)
		}
		rest = strings.TrimLeft(rest[cut:], " \t")
	}

	name := rest
	if cut := strings.IndexAny(rest, " \t"); cut >= 0 {
		name, rest = rest[:cut], rest[cut:]
	} else {
		rest = ""
	}
	op, ok := Lookup(name)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownOpcode, name)
	}

	args, err := scanArgs(rest)
	if err != nil {
		return Command{}, err
	}
	if len(args) != op.Arity() {
		return Command{}, fmt.Errorf("%w: %s takes %d, got %d", ErrBadArity, op, op.Arity(), len(args))
	}

	return Command{ShareID: shareID, Op: op, Args: args}, nil
}

// ParseLines lexes a newline-separated history, skipping blank lines.
func ParseLines(text string) ([]Command, error) {
	var cmds []Command
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// scanArgs splits the argument tail of a line, honouring quoting.
func scanArgs(s string) ([]string, error) {
	var args []string
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t':
			i++
		case '"':
			i++
			var b strings.Builder
			closed := false
			for i < len(s) {
				if s[i] == '"' {
					if i+1 < len(s) && s[i+1] == '"' {
						b.WriteByte('"')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, ErrUnterminated
			}
			args = append(args, b.String())
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' {
				j++
			}
			args = append(args, s[i:j])
			i = j
		}
	}
	return args, nil
}

// EncodeArg renders one argument for the wire: raw when purely
// alphanumeric, quoted with doubled quotes otherwise.
func EncodeArg(arg string) string {
	if rawArgPattern.MatchString(arg) {
		return arg
	}
	return `"` + strings.ReplaceAll(arg, `"`, `""`) + `"`
}

// String renders the command as a history line, share prefix included.
func (c Command) String() string {
	invariant.Precondition(c.Op.Valid(), "cannot encode invalid opcode %d", int(c.Op))

	var b strings.Builder
	if c.ShareID != "" {
		b.WriteByte('$')
		b.WriteString(c.ShareID)
		b.WriteByte(' ')
	}
	b.WriteString(c.Op.String())
	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(EncodeArg(arg))
	}
	return b.String()
}

// New builds a command. It checks the argument count (panicking on a
// mismatch) and leaves every other check to the executors.
func New(op Opcode, args ...string) Command {
	invariant.Precondition(len(args) == op.Arity(),
		"%s takes %d arguments, got %d", op, op.Arity(), len(args))
	return Command{Op: op, Args: args}
}

// NewPad builds a padding command with a fresh random nonce.
func NewPad() (Command, error) {
	nonce, err := cipher.RandomString(padNonceLength)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: OpPad, Args: []string{nonce}}, nil
}

// IsValidShareID reports whether s is a well-formed share UUID.
func IsValidShareID(s string) bool {
	return uuidPattern.MatchString(s)
}
