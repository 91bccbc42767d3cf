package manager

import "errors"

var (
	// ErrPoolNotFound 表示请求的池不存在
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists 表示同名池已注册
	ErrPoolExists = errors.New("pool already exists")
)
