package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"VKSaver/logger"
)

var (
	ErrBinaryUnavailable   = errors.New("xray binary not found")
	ErrBinaryNotExecutable = errors.New("xray binary is not executable")
	ErrTunnelStartFailed   = errors.New("xray tunnel failed to start")
)

// StartError carries the captured stderr of an xray process that exited during the settle interval.
type StartError struct {
	Stderr string
}

func (e *StartError) Error() string {
	return "xray exited: " + e.Stderr
}

func (e *StartError) Unwrap() error {
	return ErrTunnelStartFailed
}

const maxStderr = 500

// Options configures a Supervisor.
type Options struct {
	Binary      string
	ConfigDir   string
	SettleDelay time.Duration
	StopGrace   time.Duration
}

// Handle describes one live xray process.
type Handle struct {
	ProxyID    string
	Port       int
	ConfigPath string
	StartedAt  time.Time

	cmd  *exec.Cmd
	done chan struct{}
}

func (h *Handle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// terminate signals the process group with SIGTERM, then SIGKILL after grace.
func (h *Handle) terminate(grace time.Duration) {
	if !h.alive() {
		return
	}
	pgid := h.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-h.done:
		return
	case <-time.After(grace):
	}
	logger.Warn("[Supervisor.Stop] xray ignored SIGTERM, killing", logger.ProxyID(h.ProxyID), logger.Int("pid", pgid))
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-h.done
}

// Supervisor owns at most one xray process per proxy id.
type Supervisor struct {
	opts Options

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*idLock
}

// idLock is dropped from Supervisor.locks once nobody holds or waits on it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewSupervisor creates a supervisor with no running tunnels.
func NewSupervisor(opts Options) *Supervisor {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 1500 * time.Millisecond
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	return &Supervisor{
		opts:    opts,
		handles: make(map[string]*Handle),
		locks:   make(map[string]*idLock),
	}
}

// lockID serializes Start/Stop for a single proxy id.
func (s *Supervisor) lockID(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// CheckBinary reports whether the xray binary exists and is executable.
func (s *Supervisor) CheckBinary() error {
	return checkBinary(s.opts.Binary)
}

func checkBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrBinaryUnavailable, path, err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s (run chmod +x)", ErrBinaryNotExecutable, path)
	}
	return nil
}

// FreePort asks the kernel for an unused loopback port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start launches xray for proxyID, replacing any tunnel already running for it.
// It returns the local SOCKS port.
func (s *Supervisor) Start(ctx context.Context, proxyID, uri string) (int, error) {
	unlock := s.lockID(proxyID)
	defer unlock()

	s.stopLocked(proxyID)

	if err := checkBinary(s.opts.Binary); err != nil {
		return 0, err
	}
	link, err := ParseVLESS(uri)
	if err != nil {
		return 0, err
	}
	port, err := FreePort()
	if err != nil {
		return 0, fmt.Errorf("allocate local port: %w", err)
	}

	if err := os.MkdirAll(s.opts.ConfigDir, 0755); err != nil {
		return 0, fmt.Errorf("create config dir: %w", err)
	}
	cfgPath := filepath.Join(s.opts.ConfigDir, proxyID+".json")
	data, err := json.MarshalIndent(BuildConfig(link, port), "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(cfgPath, data, 0600); err != nil {
		return 0, fmt.Errorf("write xray config: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.Command(s.opts.Binary, "run", "-c", cfgPath)
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		os.Remove(cfgPath)
		return 0, fmt.Errorf("%w: %v", ErrTunnelStartFailed, err)
	}

	h := &Handle{
		ProxyID:    proxyID,
		Port:       port,
		ConfigPath: cfgPath,
		StartedAt:  time.Now(),
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()

	select {
	case <-h.done:
		os.Remove(cfgPath)
		// stderr is complete once Wait has returned
		msg := truncate(stderr.String(), maxStderr)
		logger.Error("[Supervisor.Start] xray exited during startup", logger.ProxyID(proxyID), logger.String("stderr", msg))
		return 0, &StartError{Stderr: msg}
	case <-ctx.Done():
		h.terminate(s.opts.StopGrace)
		os.Remove(cfgPath)
		return 0, ctx.Err()
	case <-time.After(s.opts.SettleDelay):
	}

	s.mu.Lock()
	s.handles[proxyID] = h
	s.mu.Unlock()

	logger.Info("[Supervisor.Start] xray started", logger.ProxyID(proxyID), logger.Int("port", port), logger.Int("pid", cmd.Process.Pid))
	return port, nil
}

// Stop terminates the tunnel for proxyID. It is a no-op when none is running.
func (s *Supervisor) Stop(proxyID string) {
	unlock := s.lockID(proxyID)
	defer unlock()
	s.stopLocked(proxyID)
}

func (s *Supervisor) stopLocked(proxyID string) {
	s.mu.Lock()
	h, ok := s.handles[proxyID]
	delete(s.handles, proxyID)
	s.mu.Unlock()
	if !ok {
		return
	}

	h.terminate(s.opts.StopGrace)
	if err := os.Remove(h.ConfigPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("[Supervisor.Stop] remove config failed", logger.ProxyID(proxyID), logger.ErrorField(err))
	}
	logger.Info("[Supervisor.Stop] xray stopped", logger.ProxyID(proxyID))
}

// live returns the handle for proxyID if its process is still running, reaping it otherwise.
func (s *Supervisor) live(proxyID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[proxyID]
	if !ok {
		return nil, false
	}
	if !h.alive() {
		delete(s.handles, proxyID)
		os.Remove(h.ConfigPath)
		logger.Warn("[Supervisor] reaped dead xray process", logger.ProxyID(proxyID))
		return nil, false
	}
	return h, true
}

// ResolveLocalEndpoint returns socks5://127.0.0.1:<port> for a live tunnel.
func (s *Supervisor) ResolveLocalEndpoint(proxyID string) (string, bool) {
	h, ok := s.live(proxyID)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("socks5://127.0.0.1:%d", h.Port), true
}

// Status reports whether a tunnel is running for proxyID and on which port.
func (s *Supervisor) Status(proxyID string) (bool, int) {
	h, ok := s.live(proxyID)
	if !ok {
		return false, 0
	}
	return true, h.Port
}

// Shutdown stops every live tunnel.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Stop(id)
		}(id)
	}
	wg.Wait()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
