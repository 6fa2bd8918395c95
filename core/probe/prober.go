package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"VKSaver/core/netx"
	"VKSaver/logger"

	"github.com/oschwald/geoip2-golang"
)

const (
	DefaultTargetURL = "https://api.vk.com/method/utils.getServerTime?v=5.131&access_token="
	DefaultIPEchoURL = "https://api.ipify.org?format=json"
	DefaultTimeout   = 10 * time.Second

	ipEchoTimeout = 5 * time.Second
	maxMessage    = 200
)

// Failure reasons reported in Result.Reason.
const (
	ReasonTimeout = "ProbeTimeout"
	ReasonError   = "ProbeError"
)

// Result is the outcome of one probe. A failed probe is still a Result, never an error.
type Result struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms"`
	IP        string `json:"ip,omitempty"`
	Country   string `json:"country,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatusMessage formats a result the way proxy records display it.
func (r Result) StatusMessage() string {
	if !r.Success {
		return r.Message
	}
	msg := fmt.Sprintf("OK! Ping: %dms", r.LatencyMs)
	if r.IP != "" {
		msg += " | IP: " + r.IP
	}
	if r.Country != "" {
		msg += " (" + r.Country + ")"
	}
	return msg
}

// Prober checks reachability of the account API through a proxy endpoint.
type Prober struct {
	TargetURL string
	IPEchoURL string
	geo       *geoip2.Reader
}

// NewProber creates a prober against the default targets.
func NewProber() *Prober {
	return &Prober{TargetURL: DefaultTargetURL, IPEchoURL: DefaultIPEchoURL}
}

// WithGeoIP enables country lookup of the egress IP from a MaxMind database.
func (p *Prober) WithGeoIP(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("open geoip db: %w", err)
	}
	p.geo = reader
	return nil
}

// Close releases the GeoIP database if one is open.
func (p *Prober) Close() error {
	if p.geo != nil {
		return p.geo.Close()
	}
	return nil
}

// Probe issues one request through endpoint (empty for direct) and measures latency.
func (p *Prober) Probe(ctx context.Context, endpoint string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := netx.NewHTTPClient(endpoint, 0)
	if err != nil {
		return failure(err)
	}

	start := time.Now()
	if err := getJSON(ctx, client, p.TargetURL, timeout, nil); err != nil {
		if isTimeout(err) {
			return Result{Reason: ReasonTimeout, Message: "Timeout", LatencyMs: timeout.Milliseconds()}
		}
		return failure(err)
	}
	res := Result{Success: true, LatencyMs: time.Since(start).Milliseconds()}
	if !netx.IsSOCKS(endpoint) {
		return res
	}

	var echo struct {
		IP string `json:"ip"`
	}
	if err := getJSON(ctx, client, p.IPEchoURL, ipEchoTimeout, &echo); err != nil {
		logger.Debug("[Prober.Probe] ip echo failed", logger.String("endpoint", endpoint), logger.ErrorField(err))
	} else {
		res.IP = echo.IP
		res.Country = p.country(echo.IP)
	}
	return res
}

func (p *Prober) country(ip string) string {
	if p.geo == nil || ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	rec, err := p.geo.Country(parsed)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

func getJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body interface{}
	if out == nil {
		out = &body
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func failure(err error) Result {
	msg := []rune(err.Error())
	if len(msg) > maxMessage {
		msg = msg[:maxMessage]
	}
	return Result{Reason: ReasonError, Message: string(msg)}
}
