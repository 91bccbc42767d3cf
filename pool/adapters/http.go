package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// HTTPConfig 定义 HTTP 后端配置
type HTTPConfig struct {
	// BaseURL 是请求的基础地址，由 URL 解析得到
	BaseURL string `mapstructure:"-"`

	// HealthPath 非空时校验会 GET 该路径，状态码小于 500 视为健康
	HealthPath string `mapstructure:"health_path"`

	Timeout               time.Duration `mapstructure:"timeout"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	KeepAlive             time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns          int           `mapstructure:"max_idle_conns"`
	MaxConnsPerHost       int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	DisableKeepAlives     bool          `mapstructure:"disable_keep_alives"`
	InsecureSkipVerify    bool          `mapstructure:"insecure_skip_verify"`
}

// DefaultHTTPConfig 返回默认的 HTTP 配置
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:               30 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		MaxIdleConns:          10,
		MaxConnsPerHost:       10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

func (*HTTPConfig) backend() {}

// Kind 实现 BackendConfig 接口
func (c *HTTPConfig) Kind() Kind { return KindHTTP }

func (c *HTTPConfig) String() string {
	base := c.BaseURL
	if u, err := url.Parse(base); err == nil {
		base = u.Redacted()
	}
	return "http " + base
}

// HTTPClient 是池中的 HTTP 资源：专属 Transport 的 http.Client 加基础地址
type HTTPClient struct {
	*http.Client

	BaseURL   string
	transport *http.Transport
	closed    atomic.Bool
}

// NewRequest 创建相对 BaseURL 的请求
func (c *HTTPClient) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, joinURL(c.BaseURL, path), body)
}

// Get 对相对 BaseURL 的路径发起 GET 请求
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// IsClosed 报告客户端是否已关闭
func (c *HTTPClient) IsClosed() bool {
	return c.closed.Load()
}

// HTTPFactory 创建 HTTPClient 资源
type HTTPFactory struct {
	cfg HTTPConfig
}

// NewHTTPFactory 创建一个新的 HTTP 连接工厂
func NewHTTPFactory(cfg HTTPConfig) *HTTPFactory {
	return &HTTPFactory{cfg: cfg}
}

// Create 实现 pool.Factory 接口
func (f *HTTPFactory) Create(ctx context.Context) (any, error) {
	if f.cfg.BaseURL == "" {
		return nil, fmt.Errorf("http: base url is required")
	}

	dialer := &net.Dialer{
		Timeout:   f.cfg.DialTimeout,
		KeepAlive: f.cfg.KeepAlive,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          f.cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   f.cfg.MaxIdleConns,
		MaxConnsPerHost:       f.cfg.MaxConnsPerHost,
		IdleConnTimeout:       f.cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   f.cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: f.cfg.ResponseHeaderTimeout,
		DisableKeepAlives:     f.cfg.DisableKeepAlives,
	}
	if f.cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPClient{
		Client:    &http.Client{Transport: transport, Timeout: f.cfg.Timeout},
		BaseURL:   f.cfg.BaseURL,
		transport: transport,
	}, nil
}

// Validate 实现 pool.Factory 接口
func (f *HTTPFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*HTTPClient)
	if !ok || c.IsClosed() {
		return false
	}
	if f.cfg.HealthPath == "" {
		return true
	}

	resp, err := c.Get(ctx, f.cfg.HealthPath)
	if err != nil {
		log.WithError(err).WithField("base_url", c.BaseURL).Debug("http validation failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

// Close 实现 pool.Factory 接口
func (f *HTTPFactory) Close(conn any) error {
	c, ok := conn.(*HTTPClient)
	if !ok {
		return fmt.Errorf("http close: unexpected connection %T", conn)
	}
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
