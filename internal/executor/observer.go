package executor

import (
	"regexp"
	"strings"
)

// toolIntent is an operation the agent announced on its output stream.
type toolIntent struct {
	Kind string // "read", "edit", "command"
	Arg  string
}

// toolLineRe matches the tool-use lines the agent CLI prints while
// working, in both "Tool(arg)" and "Tool: arg" forms, with or without a
// bullet prefix.
var toolLineRe = regexp.MustCompile(`^\s*[●•*-]?\s*(Read|Edit|Write|Update|Create|Bash|Run)\s*[:(]\s*(.+?)\s*\)?\s*$`)

// observeToolLine extracts a tool intent from an agent output line.
// Lines that are not tool announcements return ok=false.
func observeToolLine(line string) (toolIntent, bool) {
	m := toolLineRe.FindStringSubmatch(line)
	if m == nil {
		return toolIntent{}, false
	}
	arg := strings.TrimSpace(m[2])
	if arg == "" {
		return toolIntent{}, false
	}
	switch m[1] {
	case "Read":
		return toolIntent{Kind: "read", Arg: arg}, true
	case "Edit", "Write", "Update", "Create":
		return toolIntent{Kind: "edit", Arg: arg}, true
	default: // Bash, Run
		return toolIntent{Kind: "command", Arg: arg}, true
	}
}
