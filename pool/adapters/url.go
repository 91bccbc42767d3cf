package adapters

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/streadway/amqp"
)

// ParseURL 把后端 URL 解析为类型化配置
// 查询参数按字段的 mapstructure 标签解码，时长可以写成 "5s" 这样的字符串
func ParseURL(raw string) (BackendConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "postgres" || scheme == "postgresql":
		return parsePostgres(u)
	case scheme == "mysql":
		return parseMySQL(u)
	case scheme == "sqlite" || scheme == "sqlite3":
		return parseSQLite(u)
	case strings.HasPrefix(scheme, "sql+"):
		return parseGenericSQL(raw, strings.TrimPrefix(scheme, "sql+"))
	case scheme == "http" || scheme == "https":
		return parseHTTP(u)
	case scheme == "redis" || scheme == "rediss":
		return parseRedis(u)
	case scheme == "grpc" || scheme == "grpcs":
		return parseGRPC(u)
	case scheme == "amqp" || scheme == "amqps":
		return parseAMQP(u)
	case scheme == "":
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrUnsupportedBackend, redactURL(u))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, scheme)
	}
}

// sqlQuery 是 SQL 后端识别的查询参数，其余参数原样保留在 DSN 中
type sqlQuery struct {
	PingQuery string                 `mapstructure:"ping_query"`
	Extra     map[string]interface{} `mapstructure:",remain"`
}

func parsePostgres(u *url.URL) (BackendConfig, error) {
	var q sqlQuery
	if err := decodeQuery(u.Query(), &q); err != nil {
		return nil, err
	}
	dsn := *u
	dsn.RawQuery = encodeExtra(q.Extra)
	return &SQLConfig{Driver: "pgx", DSN: dsn.String(), PingQuery: q.PingQuery}, nil
}

func parseMySQL(u *url.URL) (BackendConfig, error) {
	var q sqlQuery
	if err := decodeQuery(u.Query(), &q); err != nil {
		return nil, err
	}

	// go-sql-driver 风格：user:pass@tcp(host:port)/db?params
	var b strings.Builder
	if u.User != nil {
		b.WriteString(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			b.WriteString(":" + pw)
		}
		b.WriteString("@")
	}
	host := u.Host
	if u.Port() == "" && host != "" {
		host = net.JoinHostPort(u.Hostname(), "3306")
	}
	b.WriteString("tcp(" + host + ")")
	b.WriteString("/" + strings.TrimPrefix(u.Path, "/"))
	if extra := encodeExtra(q.Extra); extra != "" {
		b.WriteString("?" + extra)
	}
	return &SQLConfig{Driver: "mysql", DSN: b.String(), PingQuery: q.PingQuery}, nil
}

func parseSQLite(u *url.URL) (BackendConfig, error) {
	var q sqlQuery
	if err := decodeQuery(u.Query(), &q); err != nil {
		return nil, err
	}
	path := u.Host + u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("parse backend url: sqlite url needs a path")
	}
	if extra := encodeExtra(q.Extra); extra != "" {
		path += "?" + extra
	}
	return &SQLConfig{Driver: "sqlite", DSN: path, PingQuery: q.PingQuery}, nil
}

// parseGenericSQL 处理 sql+<driver>://<dsn>，DSN 原样交给驱动
func parseGenericSQL(raw, driver string) (BackendConfig, error) {
	if driver == "" {
		return nil, fmt.Errorf("%w: sql+ scheme needs a driver name", ErrUnsupportedBackend)
	}
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return nil, fmt.Errorf("parse backend url: expected sql+%s://<dsn>", driver)
	}
	return &SQLConfig{Driver: driver, DSN: raw[idx+3:]}, nil
}

func parseHTTP(u *url.URL) (BackendConfig, error) {
	cfg := DefaultHTTPConfig()
	if err := decodeQuery(u.Query(), &cfg); err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse backend url: http url needs a host")
	}
	base := url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host, Path: strings.TrimSuffix(u.Path, "/")}
	cfg.BaseURL = base.String()
	return &cfg, nil
}

func parseRedis(u *url.URL) (BackendConfig, error) {
	cfg := DefaultRedisConfig()
	if err := decodeQuery(u.Query(), &cfg); err != nil {
		return nil, err
	}

	host, port := u.Hostname(), u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.TLS = cfg.TLS || u.Scheme == "rediss"

	if u.User != nil {
		cfg.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		} else if cfg.Username != "" {
			// redis://:password@host 与 redis://password@host 都视为仅密码
			cfg.Password, cfg.Username = cfg.Username, ""
		}
	}

	if db := strings.Trim(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("parse backend url: invalid redis db %q", db)
		}
		cfg.DB = n
	}
	return &cfg, nil
}

func parseGRPC(u *url.URL) (BackendConfig, error) {
	cfg := DefaultGRPCConfig()
	cfg.Insecure = u.Scheme == "grpc"
	if err := decodeQuery(u.Query(), &cfg); err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse backend url: grpc url needs a host")
	}
	cfg.Target = u.Host
	if path := strings.Trim(u.Path, "/"); path != "" {
		// grpc://dns/host:port 这类带解析器前缀的目标
		cfg.Target = u.Host + ":///" + path
	}
	return &cfg, nil
}

func parseAMQP(u *url.URL) (BackendConfig, error) {
	cfg := DefaultAMQPConfig()
	if err := decodeQuery(u.Query(), &cfg); err != nil {
		return nil, err
	}
	clean := *u
	clean.RawQuery = ""
	if _, err := amqp.ParseURI(clean.String()); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	cfg.URL = clean.String()
	return &cfg, nil
}

// decodeQuery 把查询参数弱类型解码到 out
func decodeQuery(values url.Values, out interface{}) error {
	input := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) > 0 {
			input[k] = v[len(v)-1]
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("parse backend url query: %w", err)
	}
	return nil
}

func encodeExtra(extra map[string]interface{}) string {
	if len(extra) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range extra {
		values.Set(k, fmt.Sprint(v))
	}
	return values.Encode()
}

func redactURL(u *url.URL) string {
	return u.Redacted()
}
