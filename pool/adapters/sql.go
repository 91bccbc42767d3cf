package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// SQLConfig 定义 SQL 后端配置
type SQLConfig struct {
	// Driver 是 database/sql 注册的驱动名，例如 pgx
	Driver string

	// DSN 是交给驱动的数据源名称
	DSN string

	// PingQuery 非空时替代 Ping 用于校验，例如 "SELECT 1"
	PingQuery string

	// ConnMaxLifetime 是底层单个连接的最长寿命，0 表示不限制
	ConnMaxLifetime time.Duration
}

func (*SQLConfig) backend() {}

// Kind 实现 BackendConfig 接口
func (c *SQLConfig) Kind() Kind { return KindSQL }

func (c *SQLConfig) String() string {
	dsn := c.DSN
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		dsn = u.Redacted()
	}
	return fmt.Sprintf("sql(%s) %s", c.Driver, dsn)
}

// SQLFactory 为每个池资源打开一个只持有单个连接的 *sql.DB
type SQLFactory struct {
	cfg SQLConfig
}

// NewSQLFactory 创建一个新的 SQL 连接工厂
func NewSQLFactory(cfg SQLConfig) *SQLFactory {
	return &SQLFactory{cfg: cfg}
}

// Create 实现 pool.Factory 接口
func (f *SQLFactory) Create(ctx context.Context) (any, error) {
	db, err := sql.Open(f.cfg.Driver, f.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql open %s: %w", f.cfg.Driver, err)
	}

	// 池负责并发控制，每个资源只保留一个底层连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if f.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(f.cfg.ConnMaxLifetime)
	}

	if err := f.ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql ping %s: %w", f.cfg.Driver, err)
	}
	return db, nil
}

// Validate 实现 pool.Factory 接口
func (f *SQLFactory) Validate(ctx context.Context, conn any) bool {
	db, ok := conn.(*sql.DB)
	if !ok {
		return false
	}
	if err := f.ping(ctx, db); err != nil {
		log.WithError(err).WithField("driver", f.cfg.Driver).Debug("sql validation failed")
		return false
	}
	return true
}

// Close 实现 pool.Factory 接口
func (f *SQLFactory) Close(conn any) error {
	db, ok := conn.(*sql.DB)
	if !ok {
		return fmt.Errorf("sql close: unexpected connection %T", conn)
	}
	return db.Close()
}

func (f *SQLFactory) ping(ctx context.Context, db *sql.DB) error {
	if f.cfg.PingQuery != "" {
		_, err := db.ExecContext(ctx, f.cfg.PingQuery)
		return err
	}
	return db.PingContext(ctx)
}
