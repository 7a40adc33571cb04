package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	chargingdomain "github.com/matinoplay/billing/internal/charging/domain"
	"github.com/matinoplay/billing/internal/config"
	"github.com/matinoplay/billing/internal/keystore"
	obsmetrics "github.com/matinoplay/billing/internal/observability/metrics"
	"github.com/matinoplay/billing/internal/ratelimit"
	"github.com/matinoplay/billing/internal/webcharge"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, logger *zap.Logger, m *obsmetrics.Metrics, registry *prometheus.Registry) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	if m != nil {
		r.Use(m.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return r
}

func registerGin(cfg config.Config, logger *zap.Logger, m *obsmetrics.Metrics, registry *prometheus.Registry) *gin.Engine {
	return NewEngine(cfg, logger, m, registry)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	chargingSvc  chargingdomain.Service
	webChargeSvc webcharge.Service
	keys         *keystore.Store
	limiter      *ratelimit.CallbackLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	ChargingSvc  chargingdomain.Service
	WebChargeSvc webcharge.Service
	Keys         *keystore.Store
	Limiter      *ratelimit.CallbackLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		chargingSvc:  p.ChargingSvc,
		webChargeSvc: p.WebChargeSvc,
		keys:         p.Keys,
		limiter:      p.Limiter,
	}

	svc.registerPartnerRoutes()
	svc.registerWebRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerPartnerRoutes mounts the callback surface the partner posts to.
// Every route answers 200 with {"return": "0"|"1"}; HTTP errors would only
// make the partner retry blindly.
func (s *Server) registerPartnerRoutes() {
	partner := s.engine.Group("/partner")

	partner.POST("/sub-request", s.CallbackRateLimit(), s.SubRequest)
	partner.POST("/result-request", s.CallbackRateLimit(), s.ResultRequest)
	partner.POST("/content-request", s.CallbackRateLimit(), s.ContentRequest)
}

func (s *Server) registerWebRoutes() {
	web := s.engine.Group("/web")

	web.POST("/charge", s.WebCharge)
	web.GET("/check-subscription", s.CheckSubscription)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	internal.GET("/keys/:sub_service", s.ValidateKeys)
}
