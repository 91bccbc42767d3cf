// Package adapters 为常见后端提供 pool.Factory 实现，并从 URL 解析后端配置
package adapters

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/poolguard/pool"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "adapters")

// ErrUnsupportedBackend 表示 URL 的 scheme 无法映射到任何后端
var ErrUnsupportedBackend = errors.New("unsupported backend")

// Kind 是后端类型
type Kind string

const (
	KindSQL   Kind = "sql"
	KindHTTP  Kind = "http"
	KindRedis Kind = "redis"
	KindGRPC  Kind = "grpc"
	KindAMQP  Kind = "amqp"
)

// BackendConfig 是某一种后端的类型化配置
// 实现集合是封闭的，只有本包内的配置类型满足该接口
type BackendConfig interface {
	// Kind 返回后端类型
	Kind() Kind

	// String 返回隐去密码的描述
	String() string

	backend()
}

// NewFactory 根据后端配置创建对应的工厂
func NewFactory(cfg BackendConfig) (pool.Factory, error) {
	switch c := cfg.(type) {
	case *SQLConfig:
		return NewSQLFactory(*c), nil
	case *HTTPConfig:
		return NewHTTPFactory(*c), nil
	case *RedisConfig:
		return NewRedisFactory(*c), nil
	case *GRPCConfig:
		return NewGRPCFactory(*c), nil
	case *AMQPConfig:
		return NewAMQPFactory(*c), nil
	case nil:
		return nil, fmt.Errorf("%w: nil config", ErrUnsupportedBackend)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBackend, cfg)
	}
}

// FactoryFromURL 解析 URL 并创建工厂
func FactoryFromURL(raw string) (pool.Factory, BackendConfig, error) {
	cfg, err := ParseURL(raw)
	if err != nil {
		return nil, nil, err
	}
	factory, err := NewFactory(cfg)
	if err != nil {
		return nil, nil, err
	}
	return factory, cfg, nil
}
