package mount

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type CommandKind string

const (
	CommandMove          CommandKind = "MOVE"
	CommandSave          CommandKind = "SAVE"
	CommandGoto          CommandKind = "GOTO"
	CommandHome          CommandKind = "HOME"
	CommandQueryPosition CommandKind = "POS?"
	CommandLimits        CommandKind = "LIMITS"
	CommandList          CommandKind = "LIST"
	CommandTest          CommandKind = "TEST"
)

// HasArg reports whether the command carries a ":<int>" argument on the wire.
func (k CommandKind) HasArg() bool {
	switch k {
	case CommandMove, CommandSave, CommandGoto:
		return true
	}
	return false
}

// HasSlot reports whether the argument is a slot index.
func (k CommandKind) HasSlot() bool {
	return k == CommandSave || k == CommandGoto
}

// Command is one line sent to the mount.
type Command struct {
	Kind CommandKind
	// Arg is the target position for MOVE and the slot for SAVE and GOTO.
	Arg int
}

func Move(position int) Command { return Command{Kind: CommandMove, Arg: position} }
func Save(slot int) Command     { return Command{Kind: CommandSave, Arg: slot} }
func Goto(slot int) Command     { return Command{Kind: CommandGoto, Arg: slot} }
func Home() Command             { return Command{Kind: CommandHome} }
func QueryPosition() Command    { return Command{Kind: CommandQueryPosition} }
func QueryLimits() Command      { return Command{Kind: CommandLimits} }
func List() Command             { return Command{Kind: CommandList} }
func Test() Command             { return Command{Kind: CommandTest} }

// String returns the wire form without the trailing newline.
func (c Command) String() string {
	if c.Kind.HasArg() {
		return string(c.Kind) + ":" + strconv.Itoa(c.Arg)
	}
	return string(c.Kind)
}

// ParseCommand is the inverse of Command.String.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	name, arg, hasArg := strings.Cut(line, ":")
	kind := CommandKind(strings.ToUpper(strings.TrimSpace(name)))
	switch kind {
	case CommandMove, CommandSave, CommandGoto:
		if !hasArg {
			return Command{}, errors.Newf("%s requires an argument", kind)
		}
		v, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return Command{}, errors.Wrapf(err, "parsing %s argument", kind)
		}
		if kind != CommandMove && v < 0 {
			return Command{}, errors.Newf("invalid slot %d", v)
		}
		return Command{Kind: kind, Arg: v}, nil
	case CommandHome, CommandQueryPosition, CommandLimits, CommandList, CommandTest:
		if hasArg {
			return Command{}, errors.Newf("%s takes no argument", kind)
		}
		return Command{Kind: kind}, nil
	}
	return Command{}, errors.Newf("unknown command %q", line)
}
