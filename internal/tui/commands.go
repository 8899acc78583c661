package tui

import (
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdReset
	cmdRetry
	cmdSave
	cmdHistory
	cmdLoad
	cmdDelete
	cmdPick
	cmdHelp
	cmdQuit
)

type command struct {
	kind commandKind
	// text is the message for cmdSend and the title for cmdSave.
	text string
	// n is the 1-based list position for cmdLoad, cmdDelete and cmdPick.
	n int
}

const helpText = "/reset  /retry  /save [title]  /history  /load N  /delete N  /pick N  /quit"

// parseCommand interprets one line of input. Lines not starting with "/"
// are messages.
func parseCommand(input string) (command, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{kind: cmdSend, text: input}, nil
	}

	name, arg, _ := strings.Cut(input[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "reset", "new":
		return command{kind: cmdReset}, nil
	case "retry":
		return command{kind: cmdRetry}, nil
	case "save":
		return command{kind: cmdSave, text: arg}, nil
	case "history", "ls":
		return command{kind: cmdHistory}, nil
	case "load":
		return numbered(cmdLoad, name, arg)
	case "delete", "rm":
		return numbered(cmdDelete, name, arg)
	case "pick":
		return numbered(cmdPick, name, arg)
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "exit", "q":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
}

func numbered(kind commandKind, name, arg string) (command, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return command{}, fmt.Errorf("usage: /%s N", name)
	}
	return command{kind: kind, n: n}, nil
}
