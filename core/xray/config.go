package xray

import "encoding/json"

// Config is the subset of the xray JSON configuration this service renders.
type Config struct {
	Log       LogConfig  `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
	Routing   Routing    `json:"routing"`
}

type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

type Inbound struct {
	Tag      string         `json:"tag"`
	Port     int            `json:"port"`
	Listen   string         `json:"listen"`
	Protocol string         `json:"protocol"`
	Settings SocksSettings  `json:"settings"`
	Sniffing SniffingConfig `json:"sniffing"`
}

type SocksSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

type SniffingConfig struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type Outbound struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       *VLESSSettings  `json:"settings,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

type VLESSSettings struct {
	Vnext []VnextServer `json:"vnext"`
}

type VnextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VLESSUser `json:"users"`
}

type VLESSUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Level      int    `json:"level"`
	Flow       string `json:"flow,omitempty"`
}

type StreamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security"`
	TCPSettings     *struct{}        `json:"tcpSettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	XHTTPSettings   *XHTTPSettings   `json:"xhttpSettings,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
}

type WSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   bool   `json:"multiMode"`
}

type XHTTPSettings struct {
	Path string `json:"path"`
	Host string `json:"host,omitempty"`
	Mode string `json:"mode,omitempty"`
}

type TLSSettings struct {
	AllowInsecure bool   `json:"allowInsecure"`
	ServerName    string `json:"serverName,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

type RealitySettings struct {
	Show        bool   `json:"show"`
	ServerName  string `json:"serverName,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	ShortID     string `json:"shortId,omitempty"`
	SpiderX     string `json:"spiderX,omitempty"`
}

type Routing struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []interface{} `json:"rules"`
}

// BuildConfig renders a link into an xray config with a SOCKS inbound on 127.0.0.1:localPort.
func BuildConfig(link *VLESSLink, localPort int) *Config {
	user := VLESSUser{ID: link.UUID, Encryption: link.Encryption, Flow: link.Flow}

	return &Config{
		Log: LogConfig{LogLevel: "warning"},
		Inbounds: []Inbound{{
			Tag:      "socks-in",
			Port:     localPort,
			Listen:   "127.0.0.1",
			Protocol: "socks",
			Settings: SocksSettings{Auth: "noauth", UDP: true},
			Sniffing: SniffingConfig{Enabled: true, DestOverride: []string{"http", "tls"}},
		}},
		Outbounds: []Outbound{
			{
				Tag:      "proxy",
				Protocol: "vless",
				Settings: &VLESSSettings{Vnext: []VnextServer{{
					Address: link.Host,
					Port:    link.Port,
					Users:   []VLESSUser{user},
				}}},
				StreamSettings: buildStream(link),
			},
			{Tag: "direct", Protocol: "freedom"},
		},
		Routing: Routing{DomainStrategy: "AsIs", Rules: []interface{}{}},
	}
}

func buildStream(link *VLESSLink) *StreamSettings {
	ss := &StreamSettings{Network: link.Network, Security: link.Security}

	switch link.Network {
	case "ws":
		ws := &WSSettings{Path: link.Path, Headers: map[string]string{}}
		if link.HostHeader != "" {
			ws.Headers["Host"] = link.HostHeader
		}
		ss.WSSettings = ws
	case "tcp":
		ss.TCPSettings = &struct{}{}
	case "grpc":
		ss.GRPCSettings = &GRPCSettings{ServiceName: link.Path}
	case "xhttp", "splithttp":
		ss.Network = "xhttp"
		ss.XHTTPSettings = &XHTTPSettings{Path: link.Path, Host: link.HostHeader, Mode: link.Mode}
	}

	switch link.Security {
	case "tls":
		ss.TLSSettings = &TLSSettings{ServerName: link.SNI, Fingerprint: link.FP}
	case "reality":
		ss.RealitySettings = &RealitySettings{
			ServerName:  link.SNI,
			Fingerprint: link.FP,
			PublicKey:   link.PBK,
			ShortID:     link.SID,
			SpiderX:     link.SPX,
		}
	}
	return ss
}

// RenderURI parses uri and returns the indented JSON config for localPort.
func RenderURI(uri string, localPort int) ([]byte, error) {
	link, err := ParseVLESS(uri)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(BuildConfig(link, localPort), "", "  ")
}
