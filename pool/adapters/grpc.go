package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// GRPCConfig 定义 gRPC 客户端连接的配置
type GRPCConfig struct {
	// 连接目标地址
	Target string `mapstructure:"-"`

	// Insecure 为 true 时不使用 TLS
	Insecure bool `mapstructure:"insecure"`

	// ServerName 覆盖 TLS 校验使用的主机名
	ServerName string `mapstructure:"server_name"`

	// WaitReady 为 true 时创建会等待连接进入 READY
	WaitReady bool `mapstructure:"wait_ready"`

	// ConnectTimeout 限制 WaitReady 的等待时间
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// 保活选项
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`

	UserAgent string `mapstructure:"user_agent"`
}

// DefaultGRPCConfig 返回默认的 gRPC 客户端配置
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Insecure:         true,
		ConnectTimeout:   20 * time.Second,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
	}
}

func (*GRPCConfig) backend() {}

// Kind 实现 BackendConfig 接口
func (c *GRPCConfig) Kind() Kind { return KindGRPC }

func (c *GRPCConfig) String() string {
	if c.Insecure {
		return "grpc " + c.Target
	}
	return "grpcs " + c.Target
}

// GRPCFactory 创建 *grpc.ClientConn 资源
type GRPCFactory struct {
	cfg GRPCConfig
}

// NewGRPCFactory 创建一个新的 gRPC 连接工厂
func NewGRPCFactory(cfg GRPCConfig) *GRPCFactory {
	return &GRPCFactory{cfg: cfg}
}

func (f *GRPCFactory) dialOptions() []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 4)

	// 处理凭证
	if f.cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds := credentials.NewTLS(&tls.Config{ServerName: f.cfg.ServerName, MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}

	// 处理保活选项
	if f.cfg.KeepaliveTime > 0 || f.cfg.KeepaliveTimeout > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    f.cfg.KeepaliveTime,
			Timeout: f.cfg.KeepaliveTimeout,
		}))
	}

	if f.cfg.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(f.cfg.UserAgent))
	}
	return opts
}

// Create 实现 pool.Factory 接口
func (f *GRPCFactory) Create(ctx context.Context) (any, error) {
	conn, err := grpc.NewClient(f.cfg.Target, f.dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", f.cfg.Target, err)
	}

	if !f.cfg.WaitReady {
		return conn, nil
	}

	waitCtx := ctx
	if f.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.cfg.ConnectTimeout)
		defer cancel()
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(waitCtx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("grpc connect %s: last state %s: %w", f.cfg.Target, state, waitCtx.Err())
		}
	}
}

// Validate 实现 pool.Factory 接口，只接受 READY 和 IDLE 状态
func (f *GRPCFactory) Validate(ctx context.Context, conn any) bool {
	cc, ok := conn.(*grpc.ClientConn)
	if !ok {
		return false
	}

	switch state := cc.GetState(); state {
	case connectivity.Ready, connectivity.Idle:
		return true
	case connectivity.TransientFailure:
		cc.ResetConnectBackoff()
		log.WithField("target", f.cfg.Target).Debug("grpc connection in transient failure")
		return false
	default:
		return false
	}
}

// Close 实现 pool.Factory 接口
func (f *GRPCFactory) Close(conn any) error {
	cc, ok := conn.(*grpc.ClientConn)
	if !ok {
		return fmt.Errorf("grpc close: unexpected connection %T", conn)
	}
	return cc.Close()
}
