package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/NSvoltage/bcce/internal/core"
)

// fileDiff is one file's worth of a unified diff. A nil OldPath ("" after
// normalization) means the file is created; an empty NewPath means it is
// deleted.
type fileDiff struct {
	OldPath string
	NewPath string
	Hunks   []hunk
}

// hunk is one @@ section of a unified diff.
type hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string // each with its ' ', '+' or '-' marker
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// extractDiffText pulls diff content out of agent output. Fenced
// ```diff blocks win when present; otherwise the raw text is scanned
// directly.
func extractDiffText(text string) string {
	var blocks []string
	lines := strings.Split(text, "\n")
	inBlock := false
	var current []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock && (trimmed == "```diff" || trimmed == "```patch") {
			inBlock = true
			current = current[:0]
			continue
		}
		if inBlock && trimmed == "```" {
			inBlock = false
			blocks = append(blocks, strings.Join(current, "\n"))
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	if len(blocks) > 0 {
		return strings.Join(blocks, "\n")
	}
	return text
}

// parseUnifiedDiff parses the unified diffs found in text. Paths are
// normalized: "a/" and "b/" prefixes stripped, "/dev/null" mapped to "".
func parseUnifiedDiff(text string) ([]fileDiff, error) {
	lines := strings.Split(extractDiffText(text), "\n")
	var diffs []fileDiff
	var cur *fileDiff

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				continue
			}
			if cur != nil {
				diffs = append(diffs, *cur)
			}
			cur = &fileDiff{
				OldPath: normalizeDiffPath(line[4:]),
				NewPath: normalizeDiffPath(lines[i+1][4:]),
			}
			i++
		case strings.HasPrefix(line, "@@ "):
			if cur == nil {
				return nil, core.ErrValidation(core.CodeDiffMalformed, "hunk header before file header")
			}
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, core.ErrValidation(core.CodeDiffMalformed, "malformed hunk header: "+line)
			}
			h := hunk{
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
			}
			for i+1 < len(lines) {
				next := lines[i+1]
				if len(next) > 0 && (next[0] == ' ' || next[0] == '+' || next[0] == '-') &&
					!strings.HasPrefix(next, "--- ") && !strings.HasPrefix(next, "+++ ") {
					h.Lines = append(h.Lines, next)
					i++
					continue
				}
				if next == "" && hunkRemaining(h) > 0 {
					// Bare empty line inside a hunk stands for an
					// unchanged blank line.
					h.Lines = append(h.Lines, " ")
					i++
					continue
				}
				break
			}
			cur.Hunks = append(cur.Hunks, h)
		}
	}
	if cur != nil {
		diffs = append(diffs, *cur)
	}
	for _, d := range diffs {
		if len(d.Hunks) == 0 {
			return nil, core.ErrValidation(core.CodeDiffMalformed,
				fmt.Sprintf("file %s has no hunks", d.target()))
		}
	}
	return diffs, nil
}

// target returns the path the diff acts on.
func (d *fileDiff) target() string {
	if d.NewPath != "" {
		return d.NewPath
	}
	return d.OldPath
}

// isCreate reports whether the diff creates a new file.
func (d *fileDiff) isCreate() bool { return d.OldPath == "" }

// isDelete reports whether the diff deletes the file.
func (d *fileDiff) isDelete() bool { return d.NewPath == "" }

// hunkRemaining counts how many body lines the hunk still expects.
func hunkRemaining(h hunk) int {
	var oldSeen, newSeen int
	for _, l := range h.Lines {
		switch l[0] {
		case ' ':
			oldSeen++
			newSeen++
		case '-':
			oldSeen++
		case '+':
			newSeen++
		}
	}
	remOld := h.OldLines - oldSeen
	remNew := h.NewLines - newSeen
	if remOld > remNew {
		return remOld
	}
	return remNew
}

// applyFileDiff applies all hunks to the original content. The original
// must match every context and deletion line exactly.
func applyFileDiff(original string, d *fileDiff) (string, error) {
	src := strings.Split(original, "\n")
	if original == "" {
		src = nil
	}
	var out []string
	pos := 0 // next unconsumed source line (0-based)

	for _, h := range d.Hunks {
		start := h.OldStart - 1
		if h.OldLines == 0 {
			// Pure insertion: OldStart is the line after which to insert.
			start = h.OldStart
		}
		if start < pos || start > len(src) {
			return "", core.ErrValidation(core.CodeDiffMalformed,
				fmt.Sprintf("hunk at -%d does not fit %s", h.OldStart, d.target()))
		}
		out = append(out, src[pos:start]...)
		pos = start

		for _, l := range h.Lines {
			marker, text := l[0], l[1:]
			switch marker {
			case ' ', '-':
				if pos >= len(src) || src[pos] != text {
					return "", core.ErrValidation(core.CodeDiffMalformed,
						fmt.Sprintf("context mismatch at line %d of %s", pos+1, d.target()))
				}
				if marker == ' ' {
					out = append(out, text)
				}
				pos++
			case '+':
				out = append(out, text)
			}
		}
	}
	out = append(out, src[pos:]...)
	return strings.Join(out, "\n"), nil
}

// normalizeDiffPath strips diff decorations from a header path.
func normalizeDiffPath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	if p == "/dev/null" {
		return ""
	}
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
