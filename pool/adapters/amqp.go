package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/streadway/amqp"
)

// AMQPConfig 定义 AMQP 连接配置
type AMQPConfig struct {
	URL        string        `mapstructure:"-"`
	Heartbeat  time.Duration `mapstructure:"heartbeat"`
	ChannelMax int           `mapstructure:"channel_max"`
	FrameSize  int           `mapstructure:"frame_size"`
	Locale     string        `mapstructure:"locale"`
}

// DefaultAMQPConfig 返回默认的 AMQP 配置
func DefaultAMQPConfig() AMQPConfig {
	return AMQPConfig{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	}
}

func (*AMQPConfig) backend() {}

// Kind 实现 BackendConfig 接口
func (c *AMQPConfig) Kind() Kind { return KindAMQP }

func (c *AMQPConfig) String() string {
	if u, err := url.Parse(c.URL); err == nil {
		return "amqp " + u.Redacted()
	}
	return "amqp"
}

// AMQPFactory 创建 *amqp.Connection 资源
type AMQPFactory struct {
	cfg  AMQPConfig
	dial func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

// NewAMQPFactory 创建一个新的 AMQP 连接工厂
func NewAMQPFactory(cfg AMQPConfig) *AMQPFactory {
	return &AMQPFactory{cfg: cfg, dial: amqp.DialConfig}
}

// Create 实现 pool.Factory 接口
// amqp.DialConfig 不接受 context，拨号在后台进行，ctx 结束时放弃等待
func (f *AMQPFactory) Create(ctx context.Context) (any, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := f.dial(f.cfg.URL, amqp.Config{
			Heartbeat:  f.cfg.Heartbeat,
			ChannelMax: f.cfg.ChannelMax,
			FrameSize:  f.cfg.FrameSize,
			Locale:     f.cfg.Locale,
		})
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("amqp dial: %w", r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		// 拨号完成后关闭迟到的连接
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("amqp dial: %w", ctx.Err())
	}
}

// Validate 实现 pool.Factory 接口
func (f *AMQPFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*amqp.Connection)
	return ok && !c.IsClosed()
}

// Close 实现 pool.Factory 接口，重复关闭不视为错误
func (f *AMQPFactory) Close(conn any) error {
	c, ok := conn.(*amqp.Connection)
	if !ok {
		return fmt.Errorf("amqp close: unexpected connection %T", conn)
	}
	if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
