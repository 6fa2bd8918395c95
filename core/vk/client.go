package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"VKSaver/core/fetch"
	"VKSaver/core/netx"
	"VKSaver/logger"
)

const (
	DefaultBaseURL = "https://api.vk.com/method"
	DefaultVersion = "5.131"

	requestTimeout = 30 * time.Second
)

// ProxyResolver 返回当前启用代理的 URL，未启用时返回空串
type ProxyResolver interface {
	ActiveProxyURL(ctx context.Context) string
}

// APIError VK 接口返回的 error 块
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "VK API Error"
	}
	return e.Message
}

// Client VK 接口客户端
type Client struct {
	baseURL      string
	version      string
	pageInterval time.Duration
	proxies      ProxyResolver
}

// NewClient 创建客户端，proxies 可以为 nil（直连）
func NewClient(baseURL, version string, pageInterval time.Duration, proxies ProxyResolver) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		version:      version,
		pageInterval: pageInterval,
		proxies:      proxies,
	}
}

func (c *Client) proxyURL(ctx context.Context) string {
	if c.proxies == nil {
		return ""
	}
	return c.proxies.ActiveProxyURL(ctx)
}

// call 调用一个接口方法，把 response 字段解码到 out
func (c *Client) call(ctx context.Context, token, method string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)
	params.Set("v", c.version)

	httpClient, err := netx.NewHTTPClient(c.proxyURL(ctx), requestTimeout)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Warn("[VK.call] request failed", logger.String("method", method), logger.ErrorField(err))
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		logger.Warn("[VK.call] api error", logger.String("method", method), logger.Int("code", envelope.Error.Code), logger.String("msg", envelope.Error.Message))
		return envelope.Error
	}
	if out == nil || len(envelope.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}
