package xray

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseVLESS(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want VLESSLink
	}{
		{
			name: "defaults",
			uri:  "vless://id-1@example.com",
			want: VLESSLink{UUID: "id-1", Host: "example.com", Port: 443, Network: "tcp", Security: "none", Encryption: "none", Path: "/"},
		},
		{
			name: "reality with label",
			uri:  "vless://abc@1.2.3.4:8443?type=tcp&security=reality&sni=www.microsoft.com&fp=chrome&pbk=PUBKEY&sid=6ba8&spx=%2F&flow=xtls-rprx-vision#My%20Node",
			want: VLESSLink{
				UUID: "abc", Host: "1.2.3.4", Port: 8443, Label: "My Node",
				Network: "tcp", Security: "reality", Encryption: "none",
				SNI: "www.microsoft.com", FP: "chrome", PBK: "PUBKEY", SID: "6ba8", SPX: "/",
				Path: "/", Flow: "xtls-rprx-vision",
			},
		},
		{
			name: "ws with host header and unknown params",
			uri:  "vless://u@h.net:80?type=ws&path=%2Fws%3Fed%3D2048&host=cdn.h.net&alpn=h2&foo=bar",
			want: VLESSLink{UUID: "u", Host: "h.net", Port: 80, Network: "ws", Security: "none", Encryption: "none", Path: "/ws?ed=2048", HostHeader: "cdn.h.net"},
		},
		{
			name: "ipv6",
			uri:  "vless://u@[2001:db8::1]:2053?security=tls",
			want: VLESSLink{UUID: "u", Host: "2001:db8::1", Port: 2053, Network: "tcp", Security: "tls", Encryption: "none", Path: "/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVLESS(tt.uri)
			if err != nil {
				t.Fatalf("ParseVLESS: %v", err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("ParseVLESS =\n%+v\nwant\n%+v", *got, tt.want)
			}
		})
	}
}

func TestParseVLESSMalformed(t *testing.T) {
	bad := []string{
		"",
		"vmess://abc@host:443",
		"VLESS://abc@host",
		"vless://host-without-user:443",
		"vless://@host:443",
		"vless://abc@host:notaport",
		"vless://abc@host:70000",
		"vless://abc@:443",
	}
	for _, uri := range bad {
		link, err := ParseVLESS(uri)
		if !errors.Is(err, ErrMalformedProxyURI) {
			t.Errorf("ParseVLESS(%q) err = %v, want ErrMalformedProxyURI", uri, err)
		}
		if link != nil {
			t.Errorf("ParseVLESS(%q) returned a partial link", uri)
		}
	}
}

// decode renders and re-reads the config as generic JSON so assertions match the on-disk shape.
func decode(t *testing.T, uri string, port int) map[string]interface{} {
	t.Helper()
	data, err := RenderURI(uri, port)
	if err != nil {
		t.Fatalf("RenderURI: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func stream(t *testing.T, cfg map[string]interface{}) map[string]interface{} {
	t.Helper()
	outbounds := cfg["outbounds"].([]interface{})
	return outbounds[0].(map[string]interface{})["streamSettings"].(map[string]interface{})
}

func TestBuildConfigInboundAndRouting(t *testing.T) {
	cfg := decode(t, "vless://id@example.com:443", 10808)

	if cfg["log"].(map[string]interface{})["loglevel"] != "warning" {
		t.Errorf("loglevel = %v", cfg["log"])
	}

	inbounds := cfg["inbounds"].([]interface{})
	if len(inbounds) != 1 {
		t.Fatalf("inbounds = %d", len(inbounds))
	}
	in := inbounds[0].(map[string]interface{})
	if in["tag"] != "socks-in" || in["listen"] != "127.0.0.1" || in["protocol"] != "socks" || in["port"].(float64) != 10808 {
		t.Errorf("inbound = %v", in)
	}
	settings := in["settings"].(map[string]interface{})
	if settings["auth"] != "noauth" || settings["udp"] != true {
		t.Errorf("inbound settings = %v", settings)
	}
	sniff := in["sniffing"].(map[string]interface{})
	if sniff["enabled"] != true || !reflect.DeepEqual(sniff["destOverride"], []interface{}{"http", "tls"}) {
		t.Errorf("sniffing = %v", sniff)
	}

	outbounds := cfg["outbounds"].([]interface{})
	if len(outbounds) != 2 {
		t.Fatalf("outbounds = %d", len(outbounds))
	}
	direct := outbounds[1].(map[string]interface{})
	if direct["tag"] != "direct" || direct["protocol"] != "freedom" {
		t.Errorf("direct outbound = %v", direct)
	}

	routing := cfg["routing"].(map[string]interface{})
	if routing["domainStrategy"] != "AsIs" || len(routing["rules"].([]interface{})) != 0 {
		t.Errorf("routing = %v", routing)
	}
}

func TestBuildConfigVnextUser(t *testing.T) {
	cfg := decode(t, "vless://uuid-1@srv.example:2096?flow=xtls-rprx-vision&encryption=none", 1)
	proxy := cfg["outbounds"].([]interface{})[0].(map[string]interface{})
	if proxy["tag"] != "proxy" || proxy["protocol"] != "vless" {
		t.Fatalf("proxy outbound = %v", proxy)
	}
	vnext := proxy["settings"].(map[string]interface{})["vnext"].([]interface{})[0].(map[string]interface{})
	if vnext["address"] != "srv.example" || vnext["port"].(float64) != 2096 {
		t.Errorf("vnext = %v", vnext)
	}
	user := vnext["users"].([]interface{})[0].(map[string]interface{})
	want := map[string]interface{}{"id": "uuid-1", "encryption": "none", "level": float64(0), "flow": "xtls-rprx-vision"}
	if !reflect.DeepEqual(user, want) {
		t.Errorf("user = %v, want %v", user, want)
	}

	noFlow := decode(t, "vless://uuid-1@srv.example", 1)
	user = noFlow["outbounds"].([]interface{})[0].(map[string]interface{})["settings"].(map[string]interface{})["vnext"].([]interface{})[0].(map[string]interface{})["users"].([]interface{})[0].(map[string]interface{})
	if _, ok := user["flow"]; ok {
		t.Errorf("flow should be omitted when empty: %v", user)
	}
}

func TestBuildConfigTransports(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		network string
		key     string
		want    map[string]interface{}
	}{
		{
			name: "tcp", uri: "vless://u@h", network: "tcp", key: "tcpSettings",
			want: map[string]interface{}{},
		},
		{
			name: "ws with host", uri: "vless://u@h?type=ws&path=%2Fsocket&host=cdn.h", network: "ws", key: "wsSettings",
			want: map[string]interface{}{"path": "/socket", "headers": map[string]interface{}{"Host": "cdn.h"}},
		},
		{
			name: "ws without host", uri: "vless://u@h?type=ws", network: "ws", key: "wsSettings",
			want: map[string]interface{}{"path": "/", "headers": map[string]interface{}{}},
		},
		{
			name: "grpc", uri: "vless://u@h?type=grpc&path=svc", network: "grpc", key: "grpcSettings",
			want: map[string]interface{}{"serviceName": "svc", "multiMode": false},
		},
		{
			name: "xhttp", uri: "vless://u@h?type=xhttp&path=%2Fx&host=x.h&mode=packet-up", network: "xhttp", key: "xhttpSettings",
			want: map[string]interface{}{"path": "/x", "host": "x.h", "mode": "packet-up"},
		},
		{
			name: "splithttp renders as xhttp", uri: "vless://u@h?type=splithttp", network: "xhttp", key: "xhttpSettings",
			want: map[string]interface{}{"path": "/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss := stream(t, decode(t, tt.uri, 1))
			if ss["network"] != tt.network {
				t.Errorf("network = %v, want %s", ss["network"], tt.network)
			}
			if !reflect.DeepEqual(ss[tt.key], tt.want) {
				t.Errorf("%s = %v, want %v", tt.key, ss[tt.key], tt.want)
			}
			for _, other := range []string{"tcpSettings", "wsSettings", "grpcSettings", "xhttpSettings"} {
				if other != tt.key {
					if _, ok := ss[other]; ok {
						t.Errorf("unexpected %s for %s", other, tt.name)
					}
				}
			}
		})
	}
}

func TestBuildConfigSecurity(t *testing.T) {
	ss := stream(t, decode(t, "vless://u@h?security=tls&sni=a.b&fp=firefox", 1))
	if ss["security"] != "tls" {
		t.Errorf("security = %v", ss["security"])
	}
	wantTLS := map[string]interface{}{"allowInsecure": false, "serverName": "a.b", "fingerprint": "firefox"}
	if !reflect.DeepEqual(ss["tlsSettings"], wantTLS) {
		t.Errorf("tlsSettings = %v", ss["tlsSettings"])
	}

	ss = stream(t, decode(t, "vless://u@h?security=reality&sni=s&fp=chrome&pbk=K&sid=01&spx=%2Fp", 1))
	wantReality := map[string]interface{}{"show": false, "serverName": "s", "fingerprint": "chrome", "publicKey": "K", "shortId": "01", "spiderX": "/p"}
	if !reflect.DeepEqual(ss["realitySettings"], wantReality) {
		t.Errorf("realitySettings = %v", ss["realitySettings"])
	}
	if _, ok := ss["tlsSettings"]; ok {
		t.Error("reality config must not carry tlsSettings")
	}

	ss = stream(t, decode(t, "vless://u@h", 1))
	if ss["security"] != "none" {
		t.Errorf("default security = %v", ss["security"])
	}
	if _, ok := ss["tlsSettings"]; ok {
		t.Error("security=none must not carry tlsSettings")
	}
}

func TestRenderURIDeterministic(t *testing.T) {
	uri := "vless://u@h:443?type=ws&security=tls&sni=h&path=%2Fa&host=h#x"
	a, err := RenderURI(uri, 2000)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := RenderURI(uri, 2000)
	if string(a) != string(b) {
		t.Error("render is not deterministic")
	}
	if !strings.Contains(string(a), `"port": 2000`) {
		t.Errorf("local port missing from config:\n%s", a)
	}

	if _, err := RenderURI("http://u@h", 1); !errors.Is(err, ErrMalformedProxyURI) {
		t.Errorf("RenderURI on bad scheme err = %v", err)
	}
}
