package proxysvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"VKSaver/core/probe"
	"VKSaver/core/xray"
	"VKSaver/logger"
	"VKSaver/model"
	"VKSaver/repository"

	"github.com/google/uuid"
)

var (
	ErrProxyNotFound   = errors.New("proxy not found")
	ErrUnsupportedType = errors.New("unsupported proxy type")
	ErrInvalidAddress  = errors.New("invalid proxy address")
)

const (
	checkTimeout  = 10 * time.Second
	maxStatusText = 200
	checkPrefix   = "check_"
)

// Tunnels manages xray processes keyed by proxy id.
type Tunnels interface {
	Start(ctx context.Context, proxyID, uri string) (int, error)
	Stop(proxyID string)
	ResolveLocalEndpoint(proxyID string) (string, bool)
	Status(proxyID string) (bool, int)
}

// Prober measures connectivity through an endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint string, timeout time.Duration) probe.Result
}

// ToggleResult is the outcome of Toggle.
type ToggleResult struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	IP        string `json:"ip,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Service owns the proxy list and the tunnels behind VLESS entries.
type Service struct {
	repo    repository.ProxyRepository
	tunnels Tunnels
	prober  Prober

	// WaitBinary blocks until the xray binary is usable. Nil disables deferred restore.
	WaitBinary func(ctx context.Context) error

	mu            sync.Mutex
	cancelRestore context.CancelFunc
	restores      sync.WaitGroup
}

// NewService creates the proxy service.
func NewService(repo repository.ProxyRepository, tunnels Tunnels, prober Prober) *Service {
	return &Service{repo: repo, tunnels: tunnels, prober: prober}
}

// Add stores a new, disabled proxy.
func (s *Service) Add(ctx context.Context, ptype model.ProxyType, address, name string) (*model.Proxy, error) {
	if !ptype.Valid() {
		return nil, ErrUnsupportedType
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	if ptype == model.ProxyTypeVLESS {
		if _, err := xray.ParseVLESS(address); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	}
	if name == "" {
		name = strings.ToUpper(string(ptype)) + " proxy"
	}

	p := &model.Proxy{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      ptype,
		Address:   address,
		Status:    model.ProxyStatusUnchecked,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("[Proxy.Add] proxy added", logger.ProxyID(p.ID), logger.String("type", string(ptype)))
	return p, nil
}

// List returns all proxies with their live tunnel state.
func (s *Service) List(ctx context.Context) ([]*model.Proxy, error) {
	proxies, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range proxies {
		p.XrayRunning, p.XrayPort = s.tunnels.Status(p.ID)
	}
	return proxies, nil
}

func (s *Service) get(ctx context.Context, id string) (*model.Proxy, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProxyNotFound
	}
	return p, nil
}

// Toggle flips the enabled flag. Enabling one proxy disables all others.
func (s *Service) Toggle(ctx context.Context, id string) (*ToggleResult, error) {
	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.abortRestore()

	if p.Enabled {
		s.tunnels.Stop(id)
		if err := s.repo.Update(ctx, id, map[string]interface{}{"enabled": false}); err != nil {
			return nil, err
		}
		logger.Info("[Proxy.Toggle] proxy disabled", logger.ProxyID(id))
		return &ToggleResult{ID: id, Enabled: false}, nil
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, other := range all {
		if other.ID != id && other.Enabled {
			s.tunnels.Stop(other.ID)
		}
	}
	if err := s.repo.DisableAll(ctx); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{"enabled": true}
	if p.Type == model.ProxyTypeVLESS {
		port, err := s.tunnels.Start(ctx, id, p.Address)
		if err != nil {
			msg := truncate(err.Error(), maxStatusText)
			logger.Warn("[Proxy.Toggle] tunnel start failed", logger.ProxyID(id), logger.ErrorField(err))
			if uerr := s.repo.Update(ctx, id, map[string]interface{}{
				"status":         model.ProxyStatusError,
				"status_message": msg,
			}); uerr != nil {
				return nil, uerr
			}
			return &ToggleResult{ID: id, Enabled: false, Error: msg}, nil
		}
		fields["status_message"] = fmt.Sprintf("Xray on port %d", port)
	}
	if err := s.repo.Update(ctx, id, fields); err != nil {
		return nil, err
	}
	logger.Info("[Proxy.Toggle] proxy enabled", logger.ProxyID(id))
	return &ToggleResult{ID: id, Enabled: true}, nil
}

// Check probes the proxy and stores the outcome on it.
func (s *Service) Check(ctx context.Context, id string) (*CheckResult, error) {
	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, map[string]interface{}{
		"status":         model.ProxyStatusChecking,
		"status_message": "Checking...",
	}); err != nil {
		return nil, err
	}

	var res probe.Result
	if p.Type == model.ProxyTypeVLESS {
		var startErr error
		res, startErr = s.checkVLESS(ctx, p)
		if startErr != nil {
			msg := truncate(startErr.Error(), maxStatusText)
			if err := s.repo.Update(ctx, id, map[string]interface{}{
				"status":         model.ProxyStatusError,
				"status_message": "Xray error: " + msg,
			}); err != nil {
				return nil, err
			}
			return &CheckResult{Status: model.ProxyStatusError, Message: msg}, nil
		}
	} else {
		endpoint := buildURL(p)
		if endpoint == "" {
			_ = s.repo.Update(ctx, id, map[string]interface{}{
				"status":         model.ProxyStatusError,
				"status_message": "Unsupported type",
			})
			return nil, ErrUnsupportedType
		}
		res = s.prober.Probe(ctx, endpoint, checkTimeout)
	}

	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "Connection failed"
		}
		if err := s.repo.Update(ctx, id, map[string]interface{}{
			"status":         model.ProxyStatusError,
			"status_message": msg,
			"ip":             "",
			"latency_ms":     int64(0),
		}); err != nil {
			return nil, err
		}
		logger.Info("[Proxy.Check] check failed", logger.ProxyID(id), logger.String("reason", res.Reason))
		return &CheckResult{Status: model.ProxyStatusError, Message: msg}, nil
	}

	msg := res.StatusMessage()
	if err := s.repo.Update(ctx, id, map[string]interface{}{
		"status":         model.ProxyStatusOK,
		"status_message": msg,
		"ip":             res.IP,
		"latency_ms":     res.LatencyMs,
		"last_check":     time.Now(),
	}); err != nil {
		return nil, err
	}
	logger.Info("[Proxy.Check] check passed", logger.ProxyID(id), logger.Int64("latency_ms", res.LatencyMs))
	return &CheckResult{Status: model.ProxyStatusOK, Message: msg, IP: res.IP, LatencyMs: res.LatencyMs}, nil
}

// checkVLESS probes the live tunnel of an enabled proxy, or a temporary one otherwise.
// The returned error is set only when the temporary tunnel could not start.
func (s *Service) checkVLESS(ctx context.Context, p *model.Proxy) (probe.Result, error) {
	if p.Enabled {
		if endpoint, ok := s.tunnels.ResolveLocalEndpoint(p.ID); ok {
			return s.prober.Probe(ctx, endpoint, checkTimeout), nil
		}
	}

	tempID := checkPrefix + p.ID
	defer s.tunnels.Stop(tempID)
	port, err := s.tunnels.Start(ctx, tempID, p.Address)
	if err != nil {
		return probe.Result{}, err
	}
	return s.prober.Probe(ctx, fmt.Sprintf("socks5://127.0.0.1:%d", port), checkTimeout), nil
}

// Delete stops the proxy's tunnel and removes it.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.abortRestore()
	s.tunnels.Stop(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("[Proxy.Delete] proxy deleted", logger.ProxyID(id))
	return nil
}

// ActiveProxyURL returns the endpoint of the enabled proxy, or "" for a direct connection.
func (s *Service) ActiveProxyURL(ctx context.Context) string {
	p, err := s.repo.GetEnabled(ctx)
	if err != nil {
		logger.Warn("[Proxy.ActiveProxyURL] lookup failed", logger.ErrorField(err))
		return ""
	}
	if p == nil {
		return ""
	}
	if p.Type == model.ProxyTypeVLESS {
		endpoint, _ := s.tunnels.ResolveLocalEndpoint(p.ID)
		return endpoint
	}
	return buildURL(p)
}

// RestoreTunnels restarts the tunnel of an enabled VLESS proxy. When the xray binary is
// missing it waits for it in the background and starts the tunnel once it appears.
func (s *Service) RestoreTunnels(ctx context.Context) error {
	p, err := s.repo.GetEnabled(ctx)
	if err != nil {
		return err
	}
	if p == nil || p.Type != model.ProxyTypeVLESS {
		return nil
	}

	port, err := s.tunnels.Start(ctx, p.ID, p.Address)
	if err == nil {
		logger.Info("[Proxy.RestoreTunnels] tunnel restored", logger.ProxyID(p.ID), logger.Int("port", port))
		return nil
	}
	if s.WaitBinary == nil || !(errors.Is(err, xray.ErrBinaryUnavailable) || errors.Is(err, xray.ErrBinaryNotExecutable)) {
		return err
	}

	logger.Warn("[Proxy.RestoreTunnels] xray binary missing, waiting for it", logger.ProxyID(p.ID), logger.ErrorField(err))
	rctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelRestore != nil {
		s.cancelRestore()
	}
	s.cancelRestore = cancel
	s.mu.Unlock()

	s.restores.Add(1)
	go func() {
		defer s.restores.Done()
		defer cancel()
		s.restoreWhenReady(rctx, p.ID)
	}()
	return nil
}

// restoreWhenReady waits for the binary, then starts the tunnel if proxyID is still the enabled proxy.
func (s *Service) restoreWhenReady(ctx context.Context, proxyID string) {
	if err := s.WaitBinary(ctx); err != nil {
		logger.Warn("[Proxy.RestoreTunnels] gave up waiting for xray", logger.ProxyID(proxyID), logger.ErrorField(err))
		return
	}
	p, err := s.repo.GetEnabled(ctx)
	if err != nil {
		logger.Warn("[Proxy.RestoreTunnels] lookup failed", logger.ErrorField(err))
		return
	}
	if p == nil || p.ID != proxyID || p.Type != model.ProxyTypeVLESS {
		logger.Info("[Proxy.RestoreTunnels] proxy no longer enabled, skipping", logger.ProxyID(proxyID))
		return
	}
	port, err := s.tunnels.Start(ctx, p.ID, p.Address)
	if err != nil {
		logger.Error("[Proxy.RestoreTunnels] deferred start failed", logger.ProxyID(p.ID), logger.ErrorField(err))
		return
	}
	// Toggle or Delete may have run while the tunnel was starting.
	if ctx.Err() != nil {
		s.tunnels.Stop(p.ID)
		return
	}
	logger.Info("[Proxy.RestoreTunnels] tunnel restored", logger.ProxyID(p.ID), logger.Int("port", port))
}

// WaitRestore blocks until a deferred tunnel restore has finished or been aborted.
func (s *Service) WaitRestore() {
	s.restores.Wait()
}

// StopRestore aborts a deferred restore that is still waiting for the binary.
func (s *Service) StopRestore() {
	s.abortRestore()
}

// abortRestore cancels a pending deferred restore and waits for it to exit.
func (s *Service) abortRestore() {
	s.mu.Lock()
	if s.cancelRestore != nil {
		s.cancelRestore()
		s.cancelRestore = nil
	}
	s.mu.Unlock()
	s.restores.Wait()
}

// buildURL turns an http or socks5 entry into a proxy URL.
func buildURL(p *model.Proxy) string {
	switch p.Type {
	case model.ProxyTypeHTTP:
		if strings.HasPrefix(p.Address, "http") {
			return p.Address
		}
		return "http://" + p.Address
	case model.ProxyTypeSOCKS5:
		if strings.HasPrefix(p.Address, "socks5") {
			return p.Address
		}
		return "socks5://" + p.Address
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
