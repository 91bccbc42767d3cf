package pool

import "errors"

var (
	// ErrPoolClosed 表示连接池已关闭
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolExhausted 表示池已耗尽且策略为 PolicyFail
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrAcquireTimeout 表示等待可用资源超时
	ErrAcquireTimeout = errors.New("acquire timeout")

	// ErrInvalidConfig 表示池配置不合法
	ErrInvalidConfig = errors.New("invalid pool config")

	// ErrUnknownResource 表示归还的资源不属于池或已经归还
	ErrUnknownResource = errors.New("unknown resource")

	// ErrInvalidResource 表示新创建的资源始终无法通过校验
	ErrInvalidResource = errors.New("invalid resource")

	// ErrConnType 表示连接类型与调用方期望的不一致
	ErrConnType = errors.New("unexpected connection type")
)
