package executor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
)

// procPhase tracks where a subprocess is in its lifecycle. The phase
// transitions are linear: spawned -> streaming -> exited or timedOut.
type procPhase int

const (
	phaseSpawned procPhase = iota
	phaseStreaming
	phaseExited
	phaseTimedOut
)

// lineFunc receives each output line as it arrives. stream is "stdout"
// or "stderr".
type lineFunc func(stream, line string)

// defaultKillGrace is how long a process group gets between SIGTERM and
// SIGKILL after its deadline expires.
const defaultKillGrace = 5 * time.Second

// subprocess runs one external command with line streaming, a hard
// deadline and process-group termination.
type subprocess struct {
	bin     string
	args    []string
	dir     string
	stdin   string
	env     map[string]string
	timeout time.Duration
	grace   time.Duration
	onLine  lineFunc
	logger  *logging.Logger

	mu    sync.Mutex
	phase procPhase
}

// procResult is the observed outcome of a finished subprocess.
type procResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

func (p *subprocess) setPhase(ph procPhase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// run executes the subprocess to completion. A non-zero exit or timeout
// is reported in the result, not as an error; errors mean the process
// could not be started or observed at all.
func (p *subprocess) run(ctx context.Context) (*procResult, error) {
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	grace := p.grace
	if grace == 0 {
		grace = defaultKillGrace
	}

	// Deliberately not CommandContext: on deadline the whole process
	// group gets SIGTERM then SIGKILL, not just the direct child.
	cmd := exec.Command(p.bin, p.args...) // #nosec G204 -- binary and args come from validated workflow/config
	configureProcAttr(cmd)
	if p.dir != "" {
		cmd.Dir = p.dir
	}
	if p.stdin != "" {
		cmd.Stdin = strings.NewReader(p.stdin)
	}
	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.ErrExecution("PIPE_FAILED", "creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.ErrExecution("PIPE_FAILED", "creating stderr pipe").WithCause(err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, core.ErrExecution(core.CodeAgentUnavailable,
				p.bin+" not found on PATH").WithCause(err)
		}
		return nil, core.ErrExecution("SPAWN_FAILED", "starting "+p.bin).WithCause(err)
	}
	p.setPhase(phaseSpawned)
	p.logger.Debug("subprocess started", "bin", p.bin, "pid", cmd.Process.Pid)

	p.setPhase(phaseStreaming)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.scanLines(stdout, "stdout")
	}()
	go func() {
		defer wg.Done()
		p.scanLines(stderr, "stderr")
	}()

	// Watch the deadline and escalate SIGTERM -> SIGKILL on the group.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			terminateGroup(cmd)
			select {
			case <-done:
			case <-time.After(grace):
				killGroup(cmd)
			}
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wg.Wait()

	res := &procResult{Duration: time.Since(start)}
	if ctx.Err() == context.DeadlineExceeded {
		p.setPhase(phaseTimedOut)
		res.TimedOut = true
		res.ExitCode = -1
		p.logger.Warn("subprocess timed out", "bin", p.bin, "timeout", p.timeout)
		return res, nil
	}
	p.setPhase(phaseExited)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, core.ErrExecution("WAIT_FAILED", "waiting for "+p.bin).WithCause(waitErr)
	}
	return res, nil
}

// scanLines forwards pipe output line by line. Agent output lines can be
// long, so the scanner buffer is raised well past the default.
func (p *subprocess) scanLines(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if p.onLine != nil {
			p.onLine(stream, scanner.Text())
		}
	}
}
