package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/m4xw311/docseek/errors"
	"github.com/m4xw311/docseek/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Provider runs an MCP server over stdio and exposes its tools as
// capabilities. Capability names can be aliased to the server's tool names,
// for example search_docs to get-library-docs.
type Provider struct {
	opts    tools.Options
	aliases map[string]string
	log     *zap.Logger

	life sync.Mutex

	mu       sync.Mutex
	state    tools.State
	cmd      *exec.Cmd
	conn     *mcpsdk.ClientSession
	closed   chan struct{}
	tools    map[string]bool
	name     string
	lastErr  error
	launches int
}

// NewProvider returns a Provider in the not_started state.
func NewProvider(opts tools.Options, aliases map[string]string) *Provider {
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
	return &Provider{
		opts:    opts,
		aliases: aliases,
		log:     log.Named("mcp"),
		state:   tools.StateNotStarted,
	}
}

func (p *Provider) State() tools.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Launches returns how many server processes have been started.
func (p *Provider) Launches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launches
}

func (p *Provider) handleLocked() tools.Handle {
	h := tools.Handle{State: p.state, Name: p.name}
	if p.cmd != nil && p.cmd.Process != nil {
		h.PID = p.cmd.Process.Pid
	}
	return h
}

// EnsureRunning starts the MCP server subprocess, initializes the session and
// discovers the tools it provides.
func (p *Provider) EnsureRunning(ctx context.Context) (tools.Handle, error) {
	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	switch p.state {
	case tools.StateRunning:
		h := p.handleLocked()
		p.mu.Unlock()
		return h, nil
	case tools.StateFailed:
		h := p.handleLocked()
		lastErr := p.lastErr
		p.mu.Unlock()
		return h, errors.E(errors.KindToolUnavailable, errors.Wrapf(lastErr, "MCP server failed"))
	}
	p.state = tools.StateStarting
	p.mu.Unlock()

	err := p.start(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if errors.IsKind(err, errors.KindCancelled) {
			p.state = tools.StateStopped
		} else {
			p.state = tools.StateFailed
			p.lastErr = err
		}
		p.log.Warn("MCP server failed to start", zap.Error(err))
		return p.handleLocked(), err
	}
	p.state = tools.StateRunning
	p.log.Info("MCP server running", zap.String("name", p.name), zap.Int("tools", len(p.tools)))
	return p.handleLocked(), nil
}

func (p *Provider) start(ctx context.Context) error {
	path, err := tools.ResolveCommand(p.opts.Command, p.opts.AllowedCommands)
	if err != nil {
		return err
	}

	cmd := exec.Command(path, p.opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range p.opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = &zapio.Writer{Log: p.log, Level: zap.DebugLevel}

	hctx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "docseek", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(hctx, mcpsdk.NewCommandTransport(cmd))
	p.mu.Lock()
	if cmd.Process != nil {
		p.launches++
	}
	p.mu.Unlock()
	if err != nil {
		killCmd(cmd)
		return startError(ctx, errors.Wrapf(err, "failed to connect to MCP server %q", path))
	}

	available := make(map[string]bool)
	listParams := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(hctx, listParams)
		if err != nil {
			conn.Close()
			killCmd(cmd)
			return startError(ctx, errors.Wrapf(err, "failed to list tools from MCP server %q", path))
		}
		for _, t := range list.Tools {
			available[t.Name] = true
		}
		if list.NextCursor == "" {
			break
		}
		listParams.Cursor = list.NextCursor
	}

	closed := make(chan struct{})
	go func() {
		werr := conn.Wait()
		close(closed)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn == conn && p.state == tools.StateRunning {
			p.state = tools.StateFailed
			p.lastErr = errors.New("MCP server connection closed: %v", werr)
			p.log.Warn("MCP server exited", zap.Error(werr))
		}
	}()

	p.mu.Lock()
	p.cmd = cmd
	p.conn = conn
	p.closed = closed
	p.tools = available
	p.name = path
	p.mu.Unlock()
	return nil
}

func startError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.E(errors.KindCancelled, ctx.Err())
	}
	return errors.E(errors.KindToolUnavailable, err)
}

func killCmd(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// toolName maps a capability to the server's tool name.
func (p *Provider) toolName(capability string) string {
	if name, ok := p.aliases[capability]; ok {
		return name
	}
	return capability
}

// Invoke calls the tool behind capability. Text content that is valid JSON is
// returned as is; other text is returned as a JSON string.
func (p *Provider) Invoke(ctx context.Context, capability string, args map[string]any) (json.RawMessage, error) {
	p.mu.Lock()
	conn, closed, available, st := p.conn, p.closed, p.tools, p.state
	p.mu.Unlock()
	if st != tools.StateRunning || conn == nil {
		return nil, errors.Newk(errors.KindToolUnavailable, "MCP server is %s", st)
	}

	name := p.toolName(capability)
	if !available[name] {
		return nil, errors.Newk(errors.KindToolProtocol, "MCP server does not offer tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	cctx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	result, err := conn.CallTool(cctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		select {
		case <-closed:
			return nil, errors.E(errors.KindToolUnavailable, errors.Wrapf(err, "MCP server went away during %q", name))
		default:
		}
		if ctx.Err() != nil {
			return nil, errors.E(errors.KindCancelled, ctx.Err())
		}
		return nil, errors.E(errors.KindToolProtocol, errors.Wrapf(err, "failed to call tool %q", name))
	}
	return decodeResult(name, result)
}

func decodeResult(name string, result *mcpsdk.CallToolResult) (json.RawMessage, error) {
	op := ""
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			op += text.Text
		}
	}
	if result.IsError {
		return nil, errors.Newk(errors.KindToolProtocol, "tool %q failed: %s", name, op)
	}
	if json.Valid([]byte(op)) {
		return json.RawMessage(op), nil
	}
	data, err := json.Marshal(op)
	if err != nil {
		return nil, errors.E(errors.KindToolProtocol, err)
	}
	return data, nil
}

// Shutdown closes the session, which closes the server's stdin, and kills
// the server if it has not exited within the grace period.
func (p *Provider) Shutdown() {
	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	conn, cmd := p.conn, p.cmd
	if conn == nil {
		p.mu.Unlock()
		return
	}
	if p.state != tools.StateFailed {
		p.state = tools.StateStopping
	}
	p.mu.Unlock()

	p.closeConn(conn, cmd)

	p.mu.Lock()
	p.conn, p.cmd = nil, nil
	if p.state == tools.StateStopping {
		p.state = tools.StateStopped
	}
	p.mu.Unlock()
	p.log.Info("MCP server stopped")
}

func (p *Provider) closeConn(conn *mcpsdk.ClientSession, cmd *exec.Cmd) {
	done := make(chan struct{})
	go func() {
		_ = conn.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.opts.GracePeriod):
		p.log.Info("MCP server did not exit within grace period, killing")
		killCmd(cmd)
		<-done
	}
}

// Reset clears a failed state so the server can be started again.
func (p *Provider) Reset() {
	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	if p.state != tools.StateFailed {
		p.mu.Unlock()
		return
	}
	conn, cmd := p.conn, p.cmd
	p.conn, p.cmd, p.tools = nil, nil, nil
	p.lastErr = nil
	p.state = tools.StateNotStarted
	p.mu.Unlock()

	if conn != nil {
		killCmd(cmd)
		_ = conn.Close()
	}
}
