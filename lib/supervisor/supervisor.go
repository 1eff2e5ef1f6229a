// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/agentlog"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/sandbox"
)

// ProcessLaunchError reports a transient launch failure (fork/exec
// failed, resource exhaustion). The caller may retry; nothing has been
// tracked.
type ProcessLaunchError struct {
	Agent string
	Err   error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("launching agent %s: %v", e.Agent, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error { return e.Err }

// Config holds the parameters for creating a Supervisor.
type Config struct {
	// LogDir is the directory for per-agent process logs. Required.
	LogDir string

	// StatePath is the CBOR state file persisting tracked handles
	// across orchestrator restarts. Empty disables persistence.
	StatePath string

	// Clock drives escalation waits and the monitor loop. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives supervision events. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Control performs signal delivery. Defaults to UnixControl().
	// Tests inject a fake.
	Control ProcessControl

	// Policy is the termination escalation table. Defaults to
	// DefaultPolicy().
	Policy []Step

	// MonitorInterval is the liveness poll period. Defaults to 2s.
	MonitorInterval time.Duration

	// LogMaxSize is the per-agent log rotation threshold in bytes.
	// Zero uses agentlog's default.
	LogMaxSize int64

	// OnCrash is called from the monitor loop after an unexpected
	// exit has been logged and the handle dropped. Optional. The
	// supervisor never restarts anything itself.
	OnCrash func(handle *Handle)
}

// Supervisor launches and tracks agent processes. Safe for concurrent
// use: request handlers and the monitor loop share the tracked set
// under one mutex, because a termination request can race with the
// monitor's cleanup of a process that died concurrently.
type Supervisor struct {
	logDir          string
	statePath       string
	clock           clock.Clock
	logger          *slog.Logger
	control         ProcessControl
	policy          []Step
	monitorInterval time.Duration
	logMaxSize      int64
	onCrash         func(*Handle)

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("supervisor: LogDir is required")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	control := cfg.Control
	if control == nil {
		control = UnixControl()
	}
	policy := cfg.Policy
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Supervisor{
		logDir:          cfg.LogDir,
		statePath:       cfg.StatePath,
		clock:           c,
		logger:          logger,
		control:         control,
		policy:          policy,
		monitorInterval: interval,
		logMaxSize:      cfg.LogMaxSize,
		onCrash:         cfg.OnCrash,
		handles:         make(map[string]*Handle),
	}, nil
}

// Start launches an agent process inside its sandbox boundary and
// begins tailing its output into the agent's rotating log file. The
// extra environment is merged over the spec's allow-list for this
// launch only.
//
// ctx bounds the launch, not the process: once started, the process is
// stopped only through Shutdown or Terminate, never by cancelling the
// caller's context.
//
// A missing bwrap binary surfaces as *sandbox.ConfigurationError; any
// other launch failure as *ProcessLaunchError. Neither leaves a
// tracked handle behind.
func (s *Supervisor) Start(ctx context.Context, spec *sandbox.Spec, extraEnv map[string]string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.handles[spec.Name]; ok && existing.Alive() {
		s.mu.Unlock()
		return nil, fmt.Errorf("agent %s already has a live process (pid %d)", spec.Name, existing.PID)
	}
	s.mu.Unlock()

	bwrapPath, err := sandbox.BwrapPath()
	if err != nil {
		return nil, err
	}

	launchSpec := spec
	if len(extraEnv) > 0 {
		merged := *spec
		merged.Environment = maps.Clone(spec.Environment)
		if merged.Environment == nil {
			merged.Environment = make(map[string]string)
		}
		maps.Copy(merged.Environment, extraEnv)
		launchSpec = &merged
	}

	args, err := sandbox.BuildArgs(launchSpec)
	if err != nil {
		return nil, fmt.Errorf("building sandbox command for %s: %w", spec.Name, err)
	}

	logWriter, err := agentlog.New(agentlog.Config{
		Dir:     s.logDir,
		Name:    spec.Name,
		MaxSize: s.logMaxSize,
		Clock:   s.clock,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening log for %s: %w", spec.Name, err)
	}

	// Not CommandContext: tying the process to the caller's context
	// would hard-kill the agent the moment the daemon's signal context
	// is cancelled, before the sentinel and signal grace ever run. The
	// escalation policy owns termination.
	cmd := exec.Command(bwrapPath, args...)

	// Explicitly set a minimal environment for the bwrap process
	// itself. If cmd.Env is nil, Go inherits the parent's full
	// environment; even though bwrap clears it for the child, the
	// wrapper's /proc/<pid>/environ would still expose the
	// orchestrator's secrets to anything that can read it. The agent's
	// allow-list is passed via --setenv.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}

	// Own process group so the final escalation step can kill every
	// descendant at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logWriter.Close()
		return nil, &ProcessLaunchError{Agent: spec.Name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logWriter.Close()
		return nil, &ProcessLaunchError{Agent: spec.Name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		logWriter.Close()
		return nil, &ProcessLaunchError{Agent: spec.Name, Err: err}
	}

	handle := &Handle{
		Name:         spec.Name,
		PID:          cmd.Process.Pid,
		PGID:         cmd.Process.Pid, // Setpgid makes the child its own group leader
		StartedAt:    s.clock.Now(),
		signature:    spec.Home,
		sentinelPath: spec.SentinelPath(),
		cmd:          cmd,
		log:          logWriter,
		stderrTail:   newTailBuffer(),
		done:         make(chan struct{}),
		state:        Starting,
	}

	go tail(logWriter, stdout)
	// Stderr goes to the log and to the crash-report tail.
	go tail(teeWriter{logWriter, handle.stderrTail}, stderr)
	go s.reap(handle)

	s.track(handle)
	handle.setState(Running)

	s.logger.Info("agent process started",
		"agent", spec.Name,
		"pid", handle.PID,
		"log", logWriter.Path(),
	)
	return handle, nil
}

// teeWriter fans writes out to two writers. Errors from either are
// ignored; stream tailing is best-effort by contract.
type teeWriter struct{ a, b interface{ Write([]byte) (int, error) } }

func (w teeWriter) Write(p []byte) (int, error) {
	w.a.Write(p)
	w.b.Write(p)
	return len(p), nil
}

// reap waits for the process to exit, records its status, and closes
// the handle's done channel. State interpretation is left to whoever
// is driving (escalation marks STOPPED, the monitor marks CRASHED).
func (s *Supervisor) reap(h *Handle) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.exitCode = -1
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()

	h.log.Close()
	close(h.done)
}

// IsAlive reports whether the handle's process has not yet reported an
// exit status.
func (s *Supervisor) IsAlive(h *Handle) bool {
	return h.Alive()
}

// Shutdown runs the full escalation policy against a handle:
// cooperative sentinel (waiting up to timeout), then the forceful
// steps. Returns once the process is dead. Used for routine pause; the
// agent gets the chance to persist its own state.
func (s *Supervisor) Shutdown(ctx context.Context, h *Handle, timeout time.Duration) error {
	return s.escalate(ctx, h, s.policy, timeout)
}

// Terminate runs the escalation policy minus the cooperative sentinel
// step. Used only for destructive deletion, never for routine pause.
func (s *Supervisor) Terminate(ctx context.Context, h *Handle, timeout time.Duration) error {
	steps := make([]Step, 0, len(s.policy))
	for _, step := range s.policy {
		if step.Action == ActionSentinel {
			continue
		}
		steps = append(steps, step)
	}
	return s.escalate(ctx, h, steps, timeout)
}

// escalate walks the policy table until the process is dead. Each step
// performs its action and waits a bounded interval; a timeout simply
// advances to the next step. The sentinel step's wait is overridden by
// the caller's timeout when positive.
func (s *Supervisor) escalate(ctx context.Context, h *Handle, steps []Step, timeout time.Duration) error {
	if !h.Alive() {
		s.finish(h, Stopped)
		return nil
	}
	h.setState(ShuttingDown)

	for _, step := range steps {
		if !h.Alive() {
			break
		}

		wait := step.Wait
		switch step.Action {
		case ActionSentinel:
			if timeout > 0 {
				wait = timeout
			}
			if err := s.writeSentinel(h); err != nil {
				s.logger.Warn("sentinel write failed, escalating",
					"agent", h.Name, "error", err)
				continue
			}
			s.logger.Info("shutdown sentinel written", "agent", h.Name, "wait", wait)

		case ActionSignal:
			s.logger.Info("signalling agent process",
				"agent", h.Name, "pid", h.PID, "signal", step.Signal)
			if err := s.control.Signal(h.PID, step.Signal); err != nil {
				s.logger.Warn("signal delivery failed, escalating",
					"agent", h.Name, "error", err)
				continue
			}

		case ActionKillGroup:
			h.setState(Killing)
			s.logger.Info("killing process group",
				"agent", h.Name, "pgid", h.PGID, "signal", step.Signal)
			if err := s.control.SignalGroup(h.PGID, step.Signal); err != nil {
				s.logger.Warn("group kill failed", "agent", h.Name, "error", err)
			}
			if killed, err := s.control.KillMatching(h.signature); err != nil {
				s.logger.Warn("descendant sweep failed", "agent", h.Name, "error", err)
			} else if killed > 0 {
				s.logger.Info("descendant helpers killed",
					"agent", h.Name, "count", killed)
			}
		}

		s.waitExit(ctx, h, wait)
	}

	if h.Alive() {
		return fmt.Errorf("agent %s (pid %d) survived the full escalation policy", h.Name, h.PID)
	}
	s.finish(h, Stopped)
	s.logger.Info("agent process stopped", "agent", h.Name, "exit_code", h.ExitCode())
	return nil
}

// waitExit blocks until the process is reaped, the bounded wait
// elapses, or ctx is cancelled. Timing out is not an error.
func (s *Supervisor) waitExit(ctx context.Context, h *Handle, wait time.Duration) {
	if wait <= 0 {
		return
	}
	select {
	case <-h.done:
	case <-s.clock.After(wait):
	case <-ctx.Done():
	}
}

// writeSentinel creates the cooperative-shutdown sentinel inside the
// agent's control directory. The agent's run loop is responsible for
// polling it; the contract ends at file creation.
func (s *Supervisor) writeSentinel(h *Handle) error {
	if h.sentinelPath == "" {
		return fmt.Errorf("handle has no sentinel path")
	}
	return os.WriteFile(h.sentinelPath, []byte(s.clock.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}

// finish marks a handle terminal and drops it from the tracked set.
func (s *Supervisor) finish(h *Handle, terminal State) {
	h.setState(terminal)
	s.untrack(h)
}

// Lookup returns the tracked handle for an agent, if any.
func (s *Supervisor) Lookup(name string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name]
	return h, ok
}

// Handles returns a snapshot of all tracked handles.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

func (s *Supervisor) track(h *Handle) {
	s.mu.Lock()
	s.handles[h.Name] = h
	s.mu.Unlock()
	s.persist()
}

// untrack removes a handle, but only if it is still the current one
// for its agent: a new launch may have replaced a crashed handle
// before the monitor got around to dropping it.
func (s *Supervisor) untrack(h *Handle) {
	s.mu.Lock()
	if current, ok := s.handles[h.Name]; ok && current == h {
		delete(s.handles, h.Name)
	}
	s.mu.Unlock()
	s.persist()
}
