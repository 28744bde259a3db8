package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
)

// Prober starts the engine as a child process and queries its introspection
// endpoint for the set of node types it exposes.
type Prober struct {
	enginePath string
	pythonBin  string
	port       int
	log        *telemetry.Logger
	client     *http.Client

	// stopGrace is how long Stop waits after the terminate signal before
	// force-killing the process.
	stopGrace time.Duration

	// pollInterval is the delay between readiness probes.
	pollInterval time.Duration
}

// NewProber creates a prober for the engine at enginePath listening on port.
func NewProber(enginePath, pythonBin string, port int, log *telemetry.Logger) *Prober {
	return &Prober{
		enginePath:   enginePath,
		pythonBin:    pythonBin,
		port:         port,
		log:          log.NewComponentLogger("prober"),
		client:       &http.Client{Timeout: 10 * time.Second},
		stopGrace:    10 * time.Second,
		pollInterval: 2 * time.Second,
	}
}

// Handle is a running engine child process.
type Handle struct {
	cmd  *exec.Cmd
	done chan error
}

func (p *Prober) endpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d/object_info", p.port)
}

// Start launches the engine. The returned handle must be passed to Stop.
func (p *Prober) Start(ctx context.Context) (*Handle, error) {
	cmd := exec.CommandContext(ctx, p.pythonBin, "main.py", "--port", fmt.Sprintf("%d", p.port))
	cmd.Dir = p.enginePath

	if err := cmd.Start(); err != nil {
		return nil, errdefs.NewTransient("failed to start engine", err).
			WithCode(errdefs.CodeSubprocessFailed)
	}
	p.log.WithField("pid", cmd.Process.Pid).Info("engine started")

	h := &Handle{cmd: cmd, done: make(chan error, 1)}
	go func() {
		h.done <- cmd.Wait()
	}()
	return h, nil
}

// WaitReady polls the introspection endpoint until it answers or the timeout
// elapses.
func (p *Prober) WaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			p.log.Warnf("engine not ready after %s", timeout)
			return false
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
		if err == nil {
			resp, err := p.client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					p.log.Info("engine ready")
					return true
				}
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.pollInterval):
		}
	}
}

// Introspect fetches the full set of node types the running engine reports.
// The introspection document is a JSON object keyed by node type name.
func (p *Prober) Introspect(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errdefs.NewTransient("introspection request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.NewTransient(
			fmt.Sprintf("introspection returned status %d", resp.StatusCode), nil)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errdefs.NewValidation("malformed introspection document", err)
	}

	types := make([]string, 0, len(doc))
	for name := range doc {
		types = append(types, name)
	}
	sort.Strings(types)
	return types, nil
}

// IsRunning reports whether an engine instance answers on the introspection
// endpoint right now.
func (p *Prober) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stop terminates the engine child process: terminate signal first, then a
// forced kill after the grace window. Safe to call with a process that has
// already exited.
func (p *Prober) Stop(h *Handle) {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited.
		return
	}

	select {
	case <-h.done:
		p.log.Info("engine stopped")
	case <-time.After(p.stopGrace):
		p.log.Warn("engine did not stop in time, killing")
		_ = h.cmd.Process.Kill()
		<-h.done
	}
}
