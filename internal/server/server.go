package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/usagelab/netpulse/internal/config"
	"github.com/usagelab/netpulse/internal/ingest"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	"github.com/usagelab/netpulse/internal/observability"
	obsmiddleware "github.com/usagelab/netpulse/internal/observability/logger"
	obsmetrics "github.com/usagelab/netpulse/internal/observability/metrics"
	obstracing "github.com/usagelab/netpulse/internal/observability/tracing"
	"github.com/usagelab/netpulse/internal/ratelimit"
	"github.com/usagelab/netpulse/internal/usage"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	usage.Module,
	ingest.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	usagesvc      usagedomain.Service
	ingestsvc     ingestdomain.Service
	limits        *config.IngestLimitsHolder
	uploadLimiter *ratelimit.UploadLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Usagesvc      usagedomain.Service
	Ingestsvc     ingestdomain.Service
	Limits        *config.IngestLimitsHolder
	UploadLimiter *ratelimit.UploadLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log,
		usagesvc:      p.Usagesvc,
		ingestsvc:     p.Ingestsvc,
		limits:        p.Limits,
		uploadLimiter: p.UploadLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	users := api.Group("/users")
	{
		users.GET("/top", s.TopUsers)
		users.GET("/details", s.UserDetails)
	}

	api.POST("/upload", s.UploadCSV)
}
