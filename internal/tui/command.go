package tui

import (
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// commandArgs lists the known commands and whether each needs an argument.
var commandArgs = map[string]bool{
	"login":  true,
	"logout": false,
	"find":   false,
	"remove": true,
	"sync":   false,
	"quit":   false,
	"help":   false,
}

var commandAliases = map[string]string{
	"q":  "quit",
	"h":  "help",
	"rm": "remove",
	"f":  "find",
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) (Command, error) {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	if alias, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = alias
	}
	needsArg, ok := commandArgs[cmd.Name]
	if !ok {
		return cmd, fmt.Errorf("unknown command %q", cmd.Name)
	}
	if needsArg && cmd.Args == "" {
		return cmd, fmt.Errorf(":%s needs an argument", cmd.Name)
	}
	return cmd, nil
}
