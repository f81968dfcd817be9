package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Stage describes one subprocess in a chain.
type Stage struct {
	// Name identifies the stage in logs and results ("downloader", "encoder").
	Name string

	// Path is the binary to execute.
	Path string

	// Args is the argument vector, not including the binary itself.
	Args []string

	// Logger receives the stage's output lines. Nil falls back to the
	// chain logger.
	Logger *slog.Logger

	// Parser extracts log levels from stage-specific output formats.
	// Nil logs every line at info.
	Parser LogParser

	// Output receives each raw output line before parsing.
	Output OutputHandler
}

// StageResult reports how a stage exited.
type StageResult struct {
	Name     string
	ExitCode int
	Err      error
}

// Chain runs one or more subprocesses with stdout of each stage piped
// into stdin of the next. Stages are placed in their own process groups
// so the chain controls shutdown rather than the terminal.
//
// Shutdown is graceful: SIGINT to every process group, then SIGKILL
// after a timeout.
type Chain struct {
	stages          []Stage
	logger          *slog.Logger
	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu       sync.Mutex
	cmds     []*exec.Cmd
	results  []StageResult
	running  []bool
	started  []time.Time
	stopping bool

	stopOnce sync.Once
	done     chan struct{}
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithGracefulTimeout sets how long Stop waits after SIGINT before
// force-killing. Default is 5s.
func WithGracefulTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.gracefulTimeout = d
	}
}

// WithKillTimeout sets how long Stop waits after SIGKILL before giving
// up. Default is 5s.
func WithKillTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.killTimeout = d
	}
}

// NewChain creates a chain of stages. At least one stage is required.
func NewChain(logger *slog.Logger, stages []Stage, opts ...ChainOption) *Chain {
	c := &Chain{
		stages:          stages,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches every stage and wires the inter-stage pipes. On error
// any already-started stage is killed.
func (c *Chain) Start() error {
	if len(c.stages) == 0 {
		return fmt.Errorf("empty chain")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmds != nil {
		return fmt.Errorf("chain already started")
	}

	c.cmds = make([]*exec.Cmd, len(c.stages))
	c.results = make([]StageResult, len(c.stages))
	c.running = make([]bool, len(c.stages))
	c.started = make([]time.Time, len(c.stages))
	scanWGs := make([]*sync.WaitGroup, len(c.stages))

	// Parent copies of inter-stage pipe ends. These must all be closed
	// after the stages start or downstream stages never see EOF.
	var parentEnds []*os.File
	var prevRead *os.File

	fail := func(err error) error {
		for _, f := range parentEnds {
			f.Close()
		}
		if prevRead != nil {
			prevRead.Close()
		}
		for i, cmd := range c.cmds {
			if cmd != nil && cmd.Process != nil {
				signalGroup(cmd, syscall.SIGKILL)
				_ = cmd.Wait()
				c.running[i] = false
			}
		}
		c.cmds = nil
		return err
	}

	for i := range c.stages {
		st := c.stages[i]
		if st.Path == "" {
			return fail(fmt.Errorf("stage %s: empty binary path", st.Name))
		}

		cmd := exec.Command(st.Path, st.Args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if prevRead != nil {
			cmd.Stdin = prevRead
			parentEnds = append(parentEnds, prevRead)
			prevRead = nil
		}

		var lastStdout io.ReadCloser
		if i < len(c.stages)-1 {
			r, w, err := os.Pipe()
			if err != nil {
				return fail(fmt.Errorf("stage %s: pipe: %w", st.Name, err))
			}
			cmd.Stdout = w
			parentEnds = append(parentEnds, w)
			prevRead = r
		} else {
			var err error
			lastStdout, err = cmd.StdoutPipe()
			if err != nil {
				return fail(fmt.Errorf("stage %s: stdout pipe: %w", st.Name, err))
			}
		}

		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fail(fmt.Errorf("stage %s: stderr pipe: %w", st.Name, err))
		}

		if err := cmd.Start(); err != nil {
			return fail(fmt.Errorf("failed to start %s: %w", st.Name, err))
		}

		c.cmds[i] = cmd
		c.running[i] = true
		c.started[i] = time.Now()
		c.logger.Info("Process started", "stage", st.Name, "pid", cmd.Process.Pid)

		scanWG := &sync.WaitGroup{}
		scanWGs[i] = scanWG

		scanWG.Add(1)
		go func(st Stage, r io.Reader) {
			defer scanWG.Done()
			c.scanOutput(st, r, "stderr")
		}(st, stderr)

		if lastStdout != nil {
			scanWG.Add(1)
			go func(st Stage, r io.Reader) {
				defer scanWG.Done()
				c.scanOutput(st, r, "stdout")
			}(st, lastStdout)
		}
	}

	for _, f := range parentEnds {
		f.Close()
	}

	var waitWG sync.WaitGroup
	for i := range c.cmds {
		waitWG.Add(1)
		go func(i int) {
			defer waitWG.Done()

			// Drain output before Wait; Wait closes the pipes.
			scanWGs[i].Wait()
			err := c.cmds[i].Wait()
			code := exitCodeFromError(err)

			c.mu.Lock()
			c.results[i] = StageResult{Name: c.stages[i].Name, ExitCode: code, Err: err}
			c.running[i] = false
			c.mu.Unlock()

			c.logger.Info("Process exited", "stage", c.stages[i].Name, "exit_code", code)
		}(i)
	}

	go func() {
		waitWG.Wait()
		close(c.done)
	}()

	return nil
}

// Done is closed once every stage has exited and its output is drained.
func (c *Chain) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the chain finishes and returns the per-stage results.
func (c *Chain) Wait() []StageResult {
	<-c.done
	return c.Results()
}

// Results returns a snapshot of per-stage results. Entries for stages
// that have not exited yet are zero-valued.
func (c *Chain) Results() []StageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StageResult, len(c.results))
	copy(out, c.results)
	return out
}

// PIDs returns the process IDs of stages that are still running.
func (c *Chain) PIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pids []int
	for i, cmd := range c.cmds {
		if c.running[i] && cmd != nil && cmd.Process != nil {
			pids = append(pids, cmd.Process.Pid)
		}
	}
	return pids
}

// Status reports the current lifecycle state of every stage.
func (c *Chain) Status() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]Info, len(c.stages))
	for i := range c.stages {
		info := Info{Name: c.stages[i].Name, State: StateIdle}
		if c.cmds == nil {
			infos[i] = info
			continue
		}
		if cmd := c.cmds[i]; cmd != nil && cmd.Process != nil {
			info.PID = cmd.Process.Pid
		}
		info.StartedAt = c.started[i]
		switch {
		case c.running[i] && c.stopping:
			info.State = StateStopping
		case c.running[i]:
			info.State = StateRunning
		case c.results[i].ExitCode != 0:
			info.State = StateFailed
			info.ExitCode = c.results[i].ExitCode
		default:
			info.State = StateExited
		}
		infos[i] = info
	}
	return infos
}

// Stop shuts the chain down: SIGINT to every process group, SIGKILL
// after the graceful timeout. Safe to call multiple times and after the
// chain has already exited. Blocks until the chain is down or the kill
// timeout expires.
func (c *Chain) Stop() {
	c.stopOnce.Do(c.stop)
	select {
	case <-c.done:
	case <-time.After(c.gracefulTimeout + c.killTimeout + time.Second):
	}
}

func (c *Chain) stop() {
	c.mu.Lock()
	if c.cmds == nil {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	var live []*exec.Cmd
	for i, cmd := range c.cmds {
		if c.running[i] && cmd != nil && cmd.Process != nil {
			live = append(live, cmd)
		}
	}
	c.mu.Unlock()

	if len(live) == 0 {
		return
	}

	for _, cmd := range live {
		c.logger.Info("Sending SIGINT to process group", "pid", cmd.Process.Pid)
		if err := signalGroup(cmd, syscall.SIGINT); err != nil {
			c.logger.Warn("Failed to send SIGINT", "error", err)
		}
	}

	select {
	case <-c.done:
		return
	case <-time.After(c.gracefulTimeout):
	}

	c.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", c.gracefulTimeout)
	for _, cmd := range live {
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			// "process already finished" is fine, it exited between
			// the timeout and the kill.
			if !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
				c.logger.Error("Failed to kill process", "error", err)
			}
		}
	}

	select {
	case <-c.done:
	case <-time.After(c.killTimeout):
		c.logger.Error("Chain did not exit after kill signal")
	}
}

// signalGroup signals the whole process group of a stage so helper
// processes the stage spawned receive it too.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		// Fall back to the process itself if the group is gone.
		return cmd.Process.Signal(sig)
	}
	return nil
}

// scanOutput streams output lines from a stage, forwarding them to the
// stage's output handler and logging them at the parsed level.
func (c *Chain) scanOutput(st Stage, reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := st.Logger
	if logger == nil {
		logger = c.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if st.Output != nil {
			st.Output.HandleLine(source, line)
		}

		level, msg := "info", line
		if st.Parser != nil {
			level, msg = st.Parser(line)
		}

		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("Error reading output", "stage", st.Name, "source", source, "error", err)
	}
}
