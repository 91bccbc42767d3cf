// Package httpapi 通过 HTTP 暴露池服务的只读视图和少量管理操作
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/poolguard/internal/poolservice"
	"github.com/fyerfyer/poolguard/manager"
	"github.com/fyerfyer/poolguard/pool"
)

var log = logrus.WithField("component", "httpapi")

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// healthReport 是 pool.HealthReport 的 JSON 形式
type healthReport struct {
	Healthy   bool       `json:"healthy"`
	Closed    bool       `json:"closed"`
	Validated bool       `json:"validated"`
	Duration  string     `json:"duration"`
	CheckedAt time.Time  `json:"checked_at"`
	Error     string     `json:"error,omitempty"`
	Stats     pool.Stats `json:"stats"`
}

type healthSummary struct {
	Overall   manager.OverallStatus   `json:"overall"`
	Healthy   int                     `json:"healthy"`
	Unhealthy int                     `json:"unhealthy"`
	Pools     map[string]healthReport `json:"pools"`
	CheckedAt time.Time               `json:"checked_at"`
}

func toHealthSummary(s manager.HealthSummary) healthSummary {
	out := healthSummary{
		Overall:   s.Overall,
		Healthy:   s.Healthy,
		Unhealthy: s.Unhealthy,
		Pools:     make(map[string]healthReport, len(s.Pools)),
		CheckedAt: s.CheckedAt,
	}
	for name, r := range s.Pools {
		hr := healthReport{
			Healthy:   r.Healthy,
			Closed:    r.Closed,
			Validated: r.Validated,
			Duration:  r.Duration.String(),
			CheckedAt: r.CheckedAt,
			Stats:     r.Stats,
		}
		if r.Err != nil {
			hr.Error = r.Err.Error()
		}
		out.Pools[name] = hr
	}
	return out
}

// New 创建路由，所有处理函数都委托给 svc
func New(svc poolservice.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/pools", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.ListPools())
	})

	r.GET("/pools/:name", func(c *gin.Context) {
		info, err := svc.PoolInfo(c.Param("name"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GlobalMetrics())
	})

	// 不健康时返回 503，便于负载均衡器直接使用
	r.GET("/health", func(c *gin.Context) {
		summary := svc.HealthCheckAll(c.Request.Context())
		code := http.StatusOK
		if summary.Overall != manager.OverallHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, toHealthSummary(summary))
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Statuses())
	})

	r.GET("/breakers", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Breakers())
	})

	r.POST("/breakers/reset", func(c *gin.Context) {
		svc.ResetBreakers()
		log.Info("all breakers reset over http")
		c.JSON(http.StatusOK, svc.Breakers())
	})

	r.GET("/alerts", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, svc.Alerts(limit))
	})

	return r
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, poolservice.ErrPoolNotFound) {
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// Serve 在 addr 上运行 API，直到 ctx 结束后优雅关闭
func Serve(ctx context.Context, addr string, svc poolservice.Service) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           New(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
