package adapters

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig 定义 Redis 连接配置
type RedisConfig struct {
	// 连接设置
	Addr     string `mapstructure:"-"`
	Username string `mapstructure:"-"`
	Password string `mapstructure:"-"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`

	// 超时设置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// PingTimeout 限制创建时的 PING
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// DefaultRedisConfig 返回默认的 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PingTimeout:  time.Second,
	}
}

func (*RedisConfig) backend() {}

// Kind 实现 BackendConfig 接口
func (c *RedisConfig) Kind() Kind { return KindRedis }

func (c *RedisConfig) String() string {
	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s %s/%d", scheme, c.Addr, c.DB)
}

// RedisFactory 创建 *redis.Client 资源，每个客户端只持有一个底层连接
type RedisFactory struct {
	cfg RedisConfig
}

// NewRedisFactory 创建一个新的 Redis 连接工厂
func NewRedisFactory(cfg RedisConfig) *RedisFactory {
	return &RedisFactory{cfg: cfg}
}

func (f *RedisFactory) options() *redis.Options {
	opts := &redis.Options{
		Addr:         f.cfg.Addr,
		Username:     f.cfg.Username,
		Password:     f.cfg.Password,
		DB:           f.cfg.DB,
		DialTimeout:  f.cfg.DialTimeout,
		ReadTimeout:  f.cfg.ReadTimeout,
		WriteTimeout: f.cfg.WriteTimeout,
		PoolSize:     1,
		MinIdleConns: 1,
	}
	if f.cfg.TLS {
		host, _, err := net.SplitHostPort(f.cfg.Addr)
		if err != nil {
			host = f.cfg.Addr
		}
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Create 实现 pool.Factory 接口
func (f *RedisFactory) Create(ctx context.Context) (any, error) {
	client := redis.NewClient(f.options())

	// 立即验证连接
	if err := f.ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", f.cfg.Addr, err)
	}
	return client, nil
}

// Validate 实现 pool.Factory 接口
func (f *RedisFactory) Validate(ctx context.Context, conn any) bool {
	client, ok := conn.(*redis.Client)
	if !ok {
		return false
	}
	if err := f.ping(ctx, client); err != nil {
		log.WithError(err).WithField("addr", f.cfg.Addr).Debug("redis validation failed")
		return false
	}
	return true
}

// Close 实现 pool.Factory 接口
func (f *RedisFactory) Close(conn any) error {
	client, ok := conn.(*redis.Client)
	if !ok {
		return fmt.Errorf("redis close: unexpected connection %T", conn)
	}
	return client.Close()
}

func (f *RedisFactory) ping(ctx context.Context, client *redis.Client) error {
	if f.cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.PingTimeout)
		defer cancel()
	}
	result, err := client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if result != "PONG" {
		return fmt.Errorf("unexpected ping reply %q", result)
	}
	return nil
}
