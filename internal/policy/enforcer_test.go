package policy

import (
	"strings"
	"testing"

	"github.com/NSvoltage/bcce/internal/core"
)

func intp(v int) *int { return &v }

func testPolicy() core.Policy {
	return core.Policy{
		TimeoutSeconds: intp(300),
		MaxFiles:       intp(2),
		MaxEdits:       intp(1),
		AllowedPaths:   []string{"src/**", "*.go"},
		CmdAllowlist:   []string{"go", "gofmt"},
	}
}

func TestEnforcer_PathMatching(t *testing.T) {
	e := NewEnforcer(core.Policy{
		TimeoutSeconds: intp(60),
		MaxFiles:       intp(100),
		MaxEdits:       intp(100),
		AllowedPaths:   []string{"src/**", "docs/*.md", "*.go"},
		CmdAllowlist:   []string{},
	})

	cases := []struct {
		path string
		want bool
	}{
		{"src/pkg/deep/file.txt", true},
		{"src", true},
		{"docs/readme.md", true},
		{"docs/nested/readme.md", false},
		{"main.go", true},
		{"cmd/tool/main.go", true}, // bare *.go matches by base name
		{"secrets.env", false},
		{"../outside.go", false},
		{"/etc/passwd", false},
	}

	for _, tc := range cases {
		got := e.pathAllowed(tc.path)
		if got != tc.want {
			t.Errorf("pathAllowed(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestEnforcer_DenyByDefault(t *testing.T) {
	e := NewEnforcer(core.Policy{
		TimeoutSeconds: intp(60),
		MaxFiles:       intp(10),
		MaxEdits:       intp(10),
		AllowedPaths:   []string{},
		CmdAllowlist:   []string{},
	})

	if d := e.CheckRead("anything.txt"); d.Allowed {
		t.Fatalf("empty allowed_paths must deny all reads")
	}
	if d := e.CheckCommand("ls"); d.Allowed {
		t.Fatalf("empty cmd_allowlist must deny all commands")
	}
	if c := e.Snapshot(); c.Denials != 2 {
		t.Fatalf("expected 2 denials recorded, got %d", c.Denials)
	}
}

func TestEnforcer_FileQuota(t *testing.T) {
	e := NewEnforcer(testPolicy())

	if d := e.CheckRead("src/a.txt"); !d.Allowed {
		t.Fatalf("first read denied: %s", d.Reason)
	}
	if d := e.CheckRead("src/b.txt"); !d.Allowed {
		t.Fatalf("second read denied: %s", d.Reason)
	}
	d := e.CheckRead("src/c.txt")
	if d.Allowed {
		t.Fatalf("third read must exceed quota")
	}
	if !strings.Contains(d.Reason, "quota") {
		t.Fatalf("denial should mention quota: %s", d.Reason)
	}

	c := e.Snapshot()
	if c.FilesRead != 2 || c.Denials != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestEnforcer_ZeroEditQuotaDeniesFirstEdit(t *testing.T) {
	p := testPolicy()
	p.MaxEdits = intp(0)
	e := NewEnforcer(p)

	d := e.CheckEdit("src/a.go")
	if d.Allowed {
		t.Fatalf("zero edit quota must deny the first edit")
	}
	if c := e.Snapshot(); c.EditsMade != 0 || c.Denials != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestEnforcer_CommandExactName(t *testing.T) {
	e := NewEnforcer(testPolicy())

	if d := e.CheckCommand("go test ./..."); !d.Allowed {
		t.Fatalf("allowlisted command denied: %s", d.Reason)
	}
	if d := e.CheckCommand("/usr/bin/go build"); !d.Allowed {
		t.Fatalf("allowlist matches executable base name: %s", d.Reason)
	}
	if d := e.CheckCommand("rm -rf /"); d.Allowed {
		t.Fatalf("non-allowlisted command must be denied")
	}
	if d := e.CheckCommand("golang build"); d.Allowed {
		t.Fatalf("match must be exact, not prefix")
	}

	if c := e.Snapshot(); c.CommandsRun != 2 {
		t.Fatalf("expected 2 commands recorded, got %d", c.CommandsRun)
	}
}

func TestEnforcer_CredentialShapedPathStillEvaluated(t *testing.T) {
	// Redaction protects artifacts only; the enforcer sees the raw value.
	e := NewEnforcer(testPolicy())
	token := "sk-ant-REDACTED"
	if d := e.CheckRead(token); d.Allowed {
		t.Fatalf("credential-shaped path must still be denied by matching rules")
	}
}

func TestEnforcer_EditQuotaIndependentOfReads(t *testing.T) {
	e := NewEnforcer(testPolicy())
	e.CheckRead("src/a.txt")
	e.CheckRead("src/b.txt")

	if d := e.CheckEdit("src/a.txt"); !d.Allowed {
		t.Fatalf("edit quota must be independent of the file quota: %s", d.Reason)
	}
	if d := e.CheckEdit("src/b.txt"); d.Allowed {
		t.Fatalf("second edit must exceed quota")
	}
}
