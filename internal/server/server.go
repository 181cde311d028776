package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/eventstream"
	obslogger "github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	obstracing "github.com/smallbiznis/railzway-benefits/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Customers customerdomain.Service
	Hub       *eventstream.Hub `optional:"true"`
}

type Server struct {
	cfg       config.Config
	db        *gorm.DB
	log       *zap.Logger
	customers customerdomain.Service
	hub       *eventstream.Hub
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:       p.Config,
		db:        p.DB,
		log:       p.Log.Named("http.server"),
		customers: p.Customers,
		hub:       p.Hub,
	}
}

func NewEngine(s *Server) *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(s.log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", s.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	events := r.Group("/customers", OrgContext())
	events.GET("/:id/events", s.StreamCustomerEvents)

	return r
}

// Ready reports whether the database answers a ping.
func (s *Server) Ready(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
