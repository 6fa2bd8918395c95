package model

import "time"

// ProxyType 代理类型
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeSOCKS5 ProxyType = "socks5"
	ProxyTypeVLESS  ProxyType = "vless"
)

// Valid 是否为支持的代理类型
func (t ProxyType) Valid() bool {
	switch t {
	case ProxyTypeHTTP, ProxyTypeSOCKS5, ProxyTypeVLESS:
		return true
	}
	return false
}

// 代理检测状态
const (
	ProxyStatusUnchecked = "unchecked"
	ProxyStatusChecking  = "checking"
	ProxyStatusOK        = "ok"
	ProxyStatusError     = "error"
)

// Proxy 用户配置的代理。同一时刻最多只有一个处于启用状态。
type Proxy struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	Name          string     `json:"name" gorm:"size:100"`
	Type          ProxyType  `json:"proxy_type" gorm:"size:16;not null"`
	Address       string     `json:"address" gorm:"type:text;not null"`
	Enabled       bool       `json:"enabled" gorm:"index"`
	Status        string     `json:"status" gorm:"size:16;default:'unchecked'"`
	StatusMessage string     `json:"status_message" gorm:"size:512"`
	LatencyMs     int64      `json:"check_latency"`
	IP            string     `json:"check_ip" gorm:"size:64"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheck     *time.Time `json:"last_check,omitempty"`

	// 运行时信息，不落库
	XrayRunning bool `json:"xray_running" gorm:"-"`
	XrayPort    int  `json:"xray_port,omitempty" gorm:"-"`
}

// TableName 指定表名
func (Proxy) TableName() string {
	return "proxies"
}
