package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultServerHost    = "127.0.0.1"
	defaultReadyTimeout  = 30 * time.Second
	readyPollInterval    = 100 * time.Millisecond
	stopGracePeriod      = 2 * time.Second
	maxErrorBodyBytes    = 4096
	serverStderrTailSize = 4096
)

// serverSpec describes a resident inference server to spawn.
type serverSpec struct {
	name string // used in logs and errors
	bin  string
	// preArgs come before the generated arguments.
	preArgs []string
	// args builds the arguments for the chosen host and port.
	args func(host string, port int) []string
	env  []string
	host string
	// readyPath is polled until it answers with a status below 500.
	readyPath    string
	readyTimeout time.Duration
	log          zerolog.Logger
}

// serverProcess is a running server owned by one handle.
type serverProcess struct {
	name    string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	cmd    *exec.Cmd
	stderr *tailBuffer
	exited chan struct{}
	err    error // Wait result, valid once exited is closed

	stopOnce sync.Once
}

// startServer spawns spec.bin on a free local port and blocks until it answers on
// readyPath, the process exits, ctx is done or the ready timeout passes. On any failure
// the process is stopped before returning.
func startServer(ctx context.Context, spec serverSpec) (*serverProcess, error) {
	bin, err := exec.LookPath(spec.bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s runtime %q: %v", ErrDependencyUnavailable, spec.name, spec.bin, err)
	}
	host := spec.host
	if host == "" {
		host = defaultServerHost
	}
	port, err := pickFreePort(host)
	if err != nil {
		return nil, fmt.Errorf("pick port: %w", err)
	}
	args := append(append([]string(nil), spec.preArgs...), spec.args(host, port)...)

	// The server outlives the load request, so it is not bound to ctx.
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), spec.env...)
	tail := &tailBuffer{size: serverStderrTailSize}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrDependencyUnavailable, spec.name, err)
	}

	p := &serverProcess{
		name:    spec.name,
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client:  &http.Client{},
		log:     spec.log.With().Str("server", spec.name).Int("pid", cmd.Process.Pid).Logger(),
		cmd:     cmd,
		stderr:  tail,
		exited:  make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	p.log.Info().Str("bin", bin).Int("port", port).Msg("server starting")

	timeout := spec.readyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	start := time.Now()
	if err := p.waitReady(ctx, spec.readyPath, timeout); err != nil {
		p.stop()
		return nil, err
	}
	p.log.Info().Dur("took", time.Since(start)).Msg("server ready")
	return p, nil
}

func (p *serverProcess) waitReady(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()
	for {
		if p.ping(ctx, path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.exited:
			return p.exitError()
		case <-deadline.C:
			return fmt.Errorf("%s not ready after %s; stderr: %s", p.name, timeout, p.stderr.String())
		case <-tick.C:
		}
	}
}

func (p *serverProcess) ping(ctx context.Context, path string) bool {
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// exitError describes an exited process, classifying allocation failures.
func (p *serverProcess) exitError() error {
	msg := strings.TrimSpace(p.stderr.String())
	if isOOM(msg) {
		return fmt.Errorf("%w: %s exited: %s", ErrResourceExhausted, p.name, msg)
	}
	return fmt.Errorf("%s exited early: %v; stderr: %s", p.name, p.err, msg)
}

// alive reports an error once the process has exited.
func (p *serverProcess) alive() error {
	select {
	case <-p.exited:
		return p.exitError()
	default:
		return nil
	}
}

// responseError turns a non-2xx answer into an error, classifying allocation failures.
func (p *serverProcess) responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := strings.TrimSpace(string(b))
	if isOOM(msg) {
		return fmt.Errorf("%w: %s", ErrResourceExhausted, msg)
	}
	return fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, msg)
}

// requestError prefers the process exit over a transport error caused by it.
func (p *serverProcess) requestError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if aerr := p.alive(); aerr != nil {
		return aerr
	}
	return fmt.Errorf("%s request: %w", p.name, err)
}

// stop sends SIGTERM, then kills the process if it has not exited within
// stopGracePeriod. It returns once the process is gone.
func (p *serverProcess) stop() {
	p.stopOnce.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = p.cmd.Process.Kill()
		}
		select {
		case <-p.exited:
		case <-time.After(stopGracePeriod):
			p.log.Warn().Msg("server ignored SIGTERM; killing")
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
		p.log.Info().Msg("server stopped")
	})
}

// pickFreePort asks the kernel for an unused TCP port on host.
func pickFreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last size bytes written to it. Writes may come from the
// goroutine copying a child's stderr while another goroutine reads.
type tailBuffer struct {
	size int
	mu   sync.Mutex
	buf  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
