package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/profile"
)

const (
	// maxChunkBytes caps a single reply chunk read from a worker's stdout.
	maxChunkBytes = 1 << 20

	// maxStderrBytes caps the amount of stderr captured from a worker.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before
	// sending SIGKILL on pool stop.
	terminationGracePeriod = 5 * time.Second
)

// AppConfig describes how to spawn workers for one application.
type AppConfig struct {
	Entrypoint string
	Args       []string
}

// Subprocess executes jobs by spawning one worker process per dispatch. The
// framed request is written to the worker's stdin; each line the worker
// prints to stdout becomes one reply chunk.
type Subprocess struct {
	apps   map[string]AppConfig
	logger *slog.Logger
}

var _ Engine = (*Subprocess)(nil)

// NewSubprocess creates a subprocess engine for the configured applications.
func NewSubprocess(apps map[string]AppConfig) *Subprocess {
	return &Subprocess{
		apps:   apps,
		logger: log.WithComponent("engine"),
	}
}

// Start creates a pool for the named application.
func (s *Subprocess) Start(name string, prof *profile.Profile) (Pool, error) {
	cfg, ok := s.apps[name]
	if !ok {
		return nil, fmt.Errorf("application %q has no configured entrypoint", name)
	}
	return &procPool{
		name:    name,
		cfg:     cfg,
		prof:    prof,
		logger:  log.WithApp(name),
		running: make(map[int64]*worker),
	}, nil
}

type worker struct {
	cmd  *exec.Cmd
	done chan struct{}
}

type procPool struct {
	name   string
	cfg    AppConfig
	prof   *profile.Profile
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
	running map[int64]*worker
	nextID  int64

	spawned atomic.Int64
}

func (p *procPool) Enqueue(method string, up Upstream, instance string) (RequestStream, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool %q is stopped", p.name)
	}
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	cmd := exec.Command(p.cfg.Entrypoint, p.cfg.Args...)
	cmd.Env = append(os.Environ(),
		"SPINDLE_APP="+p.name,
		"SPINDLE_METHOD="+method,
		"SPINDLE_INSTANCE="+instance,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("spawning worker", "method", method, "instance", instance, "entrypoint", p.cfg.Entrypoint)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	p.spawned.Add(1)

	w := &worker{cmd: cmd, done: make(chan struct{})}
	p.mu.Lock()
	if p.stopped {
		// Stop won the race; this worker is not tracked, kill it here.
		p.mu.Unlock()
		_ = cmd.Process.Kill()
		go func() {
			defer close(w.done)
			_ = cmd.Wait()
			up.Close()
		}()
		_ = stdin.Close()
		return nil, fmt.Errorf("pool %q is stopped", p.name)
	}
	p.running[id] = w
	p.mu.Unlock()

	go p.pump(id, w, stdout, &stderr, up)

	return &procStream{stdin: stdin}, nil
}

// pump streams worker stdout lines to the sink, then reaps the process and
// closes the stream exactly once.
func (p *procPool) pump(id int64, w *worker, stdout io.Reader, stderr *bytes.Buffer, up Upstream) {
	defer close(w.done)
	defer func() {
		p.mu.Lock()
		delete(p.running, id)
		p.mu.Unlock()
		up.Close()
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkBytes)
	for scanner.Scan() {
		chunk := make([]byte, len(scanner.Bytes()))
		copy(chunk, scanner.Bytes())
		up.Write(chunk)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Error("worker stdout read failed", "error", err)
		up.Error(int(syscall.EIO), err.Error())
	}

	if err := w.cmd.Wait(); err != nil {
		msg := truncateStderr(stderr.String())
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode(), "stderr", msg)
			up.Error(exitErr.ExitCode(), msg)
		} else {
			p.logger.Error("wait for worker failed", "error", err)
			up.Error(int(syscall.ECHILD), err.Error())
		}
	}
}

type poolInfo struct {
	Name    string           `json:"name"`
	Profile *profile.Profile `json:"profile,omitempty"`
	Spawned int64            `json:"spawned"`
	Running int              `json:"running"`
}

func (p *procPool) Info(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	running := len(p.running)
	p.mu.Unlock()

	blob, err := json.Marshal(poolInfo{
		Name:    p.name,
		Profile: p.prof,
		Spawned: p.spawned.Load(),
		Running: running,
	})
	if err != nil {
		return nil, fmt.Errorf("encode pool info: %w", err)
	}
	return blob, nil
}

// Stop terminates every running worker: SIGTERM, a grace period, then
// SIGKILL for whatever is still alive.
func (p *procPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	workers := make([]*worker, 0, len(p.running))
	for _, w := range p.running {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		if w.cmd.Process != nil {
			if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				p.logger.Debug("failed to send SIGTERM", "error", err)
			}
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-grace.C:
			p.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
			for _, rest := range workers {
				select {
				case <-rest.done:
				default:
					if rest.cmd.Process != nil {
						_ = rest.cmd.Process.Kill()
					}
				}
			}
			for _, rest := range workers {
				<-rest.done
			}
			return
		}
	}
}

type procStream struct {
	stdin io.WriteCloser
}

func (s *procStream) Write(p []byte) (err error) {
	_, err = s.stdin.Write(p)
	return err
}

func (s *procStream) Close() error {
	return s.stdin.Close()
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
