package xray

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedProxyURI is returned for a URI that is not a usable vless:// link.
var ErrMalformedProxyURI = errors.New("malformed proxy URI")

const vlessScheme = "vless://"

// VLESSLink holds the fields of a vless:// share link.
type VLESSLink struct {
	UUID       string
	Host       string
	Port       int
	Label      string
	Network    string // tcp, ws, grpc, xhttp, splithttp
	Security   string // none, tls, reality
	Encryption string
	SNI        string
	FP         string
	PBK        string
	SID        string
	SPX        string
	Path       string
	HostHeader string
	Mode       string
	Flow       string
}

// ParseVLESS parses vless://<uuid>@<host>[:<port>]?<query>#<label>.
// Unknown query parameters are ignored.
func ParseVLESS(uri string) (*VLESSLink, error) {
	if !strings.HasPrefix(uri, vlessScheme) {
		return nil, fmt.Errorf("%w: not a vless:// URI", ErrMalformedProxyURI)
	}
	rest := uri[len(vlessScheme):]

	var label string
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		label = unescape(rest[i+1:])
		rest = rest[:i]
	}

	params := make(map[string]string)
	if i := strings.Index(rest, "?"); i >= 0 {
		for _, pair := range strings.Split(rest[i+1:], "&") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			params[k] = unescape(v)
		}
		rest = rest[:i]
	}

	userID, hostport, ok := strings.Cut(rest, "@")
	if !ok {
		return nil, fmt.Errorf("%w: missing user-id@host", ErrMalformedProxyURI)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrMalformedProxyURI)
	}

	host, port := hostport, 443
	if i := strings.LastIndex(hostport, ":"); i >= 0 && !strings.HasSuffix(hostport, "]") {
		p, err := strconv.Atoi(hostport[i+1:])
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrMalformedProxyURI, hostport[i+1:])
		}
		host, port = hostport[:i], p
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrMalformedProxyURI)
	}

	get := func(key, def string) string {
		if v, ok := params[key]; ok {
			return v
		}
		return def
	}

	return &VLESSLink{
		UUID:       userID,
		Host:       host,
		Port:       port,
		Label:      label,
		Network:    get("type", "tcp"),
		Security:   get("security", "none"),
		Encryption: get("encryption", "none"),
		SNI:        get("sni", ""),
		FP:         get("fp", ""),
		PBK:        get("pbk", ""),
		SID:        get("sid", ""),
		SPX:        get("spx", ""),
		Path:       get("path", "/"),
		HostHeader: get("host", ""),
		Mode:       get("mode", ""),
		Flow:       get("flow", ""),
	}, nil
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
