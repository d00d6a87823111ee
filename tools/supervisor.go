package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/m4xw311/docseek/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxLineSize = 4 << 20

// Options configures a Supervisor.
type Options struct {
	Command          string
	Args             []string
	Env              map[string]string
	AllowedCommands  []string
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	GracePeriod      time.Duration
	Logger           *zap.Logger
}

// Supervisor runs one tool process that speaks the line protocol: one JSON
// request per line on stdin, one JSON response per line on stdout. The
// process greets with a response line before accepting requests.
type Supervisor struct {
	opts Options
	log  *zap.Logger

	// life serializes EnsureRunning, Shutdown and Reset.
	life sync.Mutex
	// call serializes Invoke; the protocol has one exchange in flight.
	call sync.Mutex

	mu       sync.Mutex
	state    State
	proc     *process
	lastErr  error
	launches int
}

type process struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	lines        chan []byte
	exited       chan struct{}
	stop         chan struct{}
	exitErr      error
	name         string
	capabilities map[string]bool
	nextID       int64
	// owed counts requests that were abandoned before their response
	// arrived. Their late responses are skipped even when they carry no id.
	owed     int
	killOnce sync.Once
}

func (p *process) kill() {
	p.killOnce.Do(func() {
		close(p.stop)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

type request struct {
	ID         int64          `json:"id"`
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
}

type response struct {
	ID     *int64          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type greeting struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

var _ Provider = (*Supervisor)(nil)

// NewSupervisor returns a Supervisor in the not_started state. No process is
// launched until EnsureRunning.
func NewSupervisor(opts Options) *Supervisor {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 3 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		opts:  opts,
		log:   log.Named("supervisor"),
		state: StateNotStarted,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Launches returns how many processes have been started.
func (s *Supervisor) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

func (s *Supervisor) handleLocked() Handle {
	h := Handle{State: s.state}
	if s.proc != nil {
		h.Name = s.proc.name
		if s.proc.cmd.Process != nil {
			h.PID = s.proc.cmd.Process.Pid
		}
	}
	return h
}

// EnsureRunning launches the process and waits for its greeting. Calling it
// while running returns the existing handle.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Handle, error) {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateRunning:
		h := s.handleLocked()
		s.mu.Unlock()
		return h, nil
	case StateFailed:
		h := s.handleLocked()
		lastErr := s.lastErr
		s.mu.Unlock()
		return h, errors.E(errors.KindToolUnavailable, errors.Wrapf(lastErr, "tool process failed"))
	}
	s.state = StateStarting
	s.mu.Unlock()

	p, err := s.start(ctx)
	if err != nil {
		s.mu.Lock()
		if errors.IsKind(err, errors.KindCancelled) {
			s.state = StateStopped
		} else {
			s.state = StateFailed
			s.lastErr = err
		}
		h := s.handleLocked()
		s.mu.Unlock()
		s.log.Warn("tool process failed to start", zap.Error(err))
		return h, err
	}

	s.mu.Lock()
	s.proc = p
	s.state = StateRunning
	h := s.handleLocked()
	s.mu.Unlock()

	go s.watch(p)
	s.log.Info("tool process running",
		zap.String("name", p.name),
		zap.Int("pid", h.PID),
		zap.Int("capabilities", len(p.capabilities)))
	return h, nil
}

func (s *Supervisor) start(ctx context.Context) (*process, error) {
	unavailable := func(err error, format string, a ...interface{}) error {
		return errors.E(errors.KindToolUnavailable, errors.Wrapf(err, format, a...))
	}

	path, err := ResolveCommand(s.opts.Command, s.opts.AllowedCommands)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, s.opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range s.opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, unavailable(err, "failed to open tool stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, unavailable(err, "failed to open tool stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, unavailable(err, "failed to open tool stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, unavailable(err, "failed to start tool command %q", path)
	}

	s.mu.Lock()
	s.launches++
	s.mu.Unlock()

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, 16),
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	s.log.Debug("tool process launched", zap.String("command", path), zap.Int("pid", cmd.Process.Pid))

	var g errgroup.Group
	g.Go(func() error { return readLines(stdout, p.lines, p.stop) })
	g.Go(func() error { return s.forwardStderr(stderr) })
	go func() {
		readErr := g.Wait()
		waitErr := cmd.Wait()
		if waitErr == nil {
			waitErr = readErr
		}
		p.exitErr = waitErr
		close(p.exited)
	}()

	if err := s.handshake(ctx, p); err != nil {
		p.kill()
		s.awaitExit(p)
		return nil, err
	}
	return p, nil
}

func (s *Supervisor) handshake(ctx context.Context, p *process) error {
	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	var line []byte
	select {
	case l, ok := <-p.lines:
		if !ok {
			return errors.Newk(errors.KindToolUnavailable, "tool process exited before greeting")
		}
		line = l
	case <-timer.C:
		return errors.Newk(errors.KindToolUnavailable, "no greeting from tool process within %s", s.opts.HandshakeTimeout)
	case <-ctx.Done():
		return errors.E(errors.KindCancelled, ctx.Err())
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return errors.E(errors.KindToolUnavailable, errors.Wrapf(err, "malformed greeting %q", truncate(line)))
	}
	if !resp.OK {
		return errors.Newk(errors.KindToolUnavailable, "tool process refused to start: %s", errorText(resp.Error))
	}
	var g greeting
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &g); err != nil {
			return errors.E(errors.KindToolUnavailable, errors.Wrapf(err, "malformed greeting result"))
		}
	}
	p.name = g.Name
	p.capabilities = make(map[string]bool, len(g.Capabilities))
	for _, c := range g.Capabilities {
		p.capabilities[c] = true
	}
	return nil
}

// watch marks the supervisor failed if the process exits while running.
func (s *Supervisor) watch(p *process) {
	<-p.exited
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == p && s.state == StateRunning {
		s.state = StateFailed
		s.lastErr = errors.New("tool process exited unexpectedly: %v", p.exitErr)
		s.log.Warn("tool process exited", zap.Error(p.exitErr))
	}
}

// fail invalidates p after a pipe-level error.
func (s *Supervisor) fail(p *process, err error) {
	s.mu.Lock()
	if s.proc == p && s.state == StateRunning {
		s.state = StateFailed
		s.lastErr = err
	}
	s.mu.Unlock()
	s.log.Warn("tool process pipe failed", zap.Error(err))
	p.kill()
}

// Invoke sends one request and waits for the matching response. Timeouts and
// undecodable responses leave the process running.
func (s *Supervisor) Invoke(ctx context.Context, capability string, args map[string]any) (json.RawMessage, error) {
	s.call.Lock()
	defer s.call.Unlock()

	s.mu.Lock()
	p, st := s.proc, s.state
	s.mu.Unlock()
	if st != StateRunning || p == nil {
		return nil, errors.Newk(errors.KindToolUnavailable, "tool process is %s", st)
	}
	if len(p.capabilities) > 0 && !p.capabilities[capability] {
		return nil, errors.Newk(errors.KindToolProtocol, "tool process does not offer capability %q", capability)
	}
	if args == nil {
		args = map[string]any{}
	}

	p.nextID++
	id := p.nextID
	data, err := json.Marshal(request{ID: id, Capability: capability, Arguments: args})
	if err != nil {
		return nil, errors.E(errors.KindToolProtocol, errors.Wrapf(err, "failed to encode %s request", capability))
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		err = errors.Wrapf(err, "failed to write to tool process")
		s.fail(p, err)
		return nil, errors.E(errors.KindToolUnavailable, err)
	}
	s.log.Debug("tool request", zap.Int64("id", id), zap.String("capability", capability))

	timer := time.NewTimer(s.opts.CallTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				err := errors.New("tool process closed its output")
				s.fail(p, err)
				return nil, errors.E(errors.KindToolUnavailable, err)
			}
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				if p.owed > 0 {
					p.owed--
					s.log.Debug("discarding malformed late tool response", zap.String("line", truncate(line)))
					continue
				}
				return nil, errors.E(errors.KindToolProtocol, errors.Wrapf(err, "malformed response %q", truncate(line)))
			}
			if resp.ID != nil && *resp.ID != id {
				if p.owed > 0 {
					p.owed--
				}
				s.log.Debug("discarding stale tool response", zap.Int64("id", *resp.ID), zap.Int64("want", id))
				continue
			}
			if resp.ID == nil && p.owed > 0 {
				p.owed--
				s.log.Debug("discarding late tool response", zap.Int("still_owed", p.owed))
				continue
			}
			if !resp.OK {
				return nil, errors.Newk(errors.KindToolProtocol, "%s failed: %s", capability, errorText(resp.Error))
			}
			if len(resp.Result) == 0 {
				return json.RawMessage("null"), nil
			}
			return resp.Result, nil
		case <-timer.C:
			p.owed++
			return nil, errors.Newk(errors.KindToolProtocol, "%s: no response within %s", capability, s.opts.CallTimeout)
		case <-ctx.Done():
			p.owed++
			return nil, errors.E(errors.KindCancelled, ctx.Err())
		}
	}
}

// Shutdown closes stdin, waits up to the grace period and then kills the
// process. It is safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	p, st := s.proc, s.state
	if p == nil {
		s.mu.Unlock()
		return
	}
	if st != StateFailed {
		s.state = StateStopping
	}
	s.mu.Unlock()

	_ = p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(s.opts.GracePeriod):
		s.log.Info("tool process did not exit within grace period, killing")
		p.kill()
		s.awaitExit(p)
	}

	s.mu.Lock()
	s.proc = nil
	if s.state == StateStopping {
		s.state = StateStopped
	}
	s.mu.Unlock()
	s.log.Info("tool process stopped")
}

// Reset clears a failed state. It has no effect in any other state.
func (s *Supervisor) Reset() {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	if s.state != StateFailed {
		s.mu.Unlock()
		return
	}
	p := s.proc
	s.proc = nil
	s.lastErr = nil
	s.state = StateNotStarted
	s.mu.Unlock()

	if p != nil {
		p.kill()
		s.awaitExit(p)
	}
}

// awaitExit waits for the reader goroutines of a killed process. It gives up
// after the grace period in case a grandchild keeps the pipes open.
func (s *Supervisor) awaitExit(p *process) {
	select {
	case <-p.exited:
	case <-time.After(s.opts.GracePeriod):
		s.log.Warn("tool process pipes still open after kill")
	}
}

func (s *Supervisor) forwardStderr(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		s.log.Debug("tool stderr", zap.String("line", scanner.Text()))
	}
	return scanner.Err()
}

// readLines sends each non-empty line of r to out until r ends or stop is
// closed.
func readLines(r io.Reader, out chan<- []byte, stop <-chan struct{}) error {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		select {
		case out <- append([]byte(nil), line...):
		case <-stop:
			return nil
		}
	}
	return scanner.Err()
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func truncate(b []byte) string {
	if len(b) > 120 {
		return string(b[:120]) + "..."
	}
	return string(b)
}
