package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/broker"
	"github.com/voxguard/voxguard/internal/config"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	"github.com/voxguard/voxguard/internal/observability"
	obsmiddleware "github.com/voxguard/voxguard/internal/observability/logger"
	obsmetrics "github.com/voxguard/voxguard/internal/observability/metrics"
	obstracing "github.com/voxguard/voxguard/internal/observability/tracing"
	"github.com/voxguard/voxguard/internal/ratelimit"
	usagedomain "github.com/voxguard/voxguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
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

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found"})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

type Params struct {
	fx.In

	Engine    *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	AttestSvc attestdomain.Service
	LedgerSvc ledgerdomain.Service
	UsageSvc  usagedomain.Service
	Broker    *broker.Broker
	Limiter   *ratelimit.Limiter
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	attestSvc attestdomain.Service
	ledgerSvc ledgerdomain.Service
	usageSvc  usagedomain.Service
	broker    *broker.Broker
	limiter   *ratelimit.Limiter
	metrics   *obsmetrics.Metrics
}

func NewServer(p Params) *Server {
	return &Server{
		engine:    p.Engine,
		cfg:       p.Cfg,
		log:       p.Log.Named("server"),
		attestSvc: p.AttestSvc,
		ledgerSvc: p.LedgerSvc,
		usageSvc:  p.UsageSvc,
		broker:    p.Broker,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}
}

// RegisterRoutes wires the gateway's routing contract: pre-auth
// attestation endpoints throttled by IP, then everything else behind
// the per-request assertion check.
func (s *Server) RegisterRoutes() {
	preAuth := s.engine.Group("/", s.PreAuthRateLimit())
	preAuth.POST("/attest/challenge", s.handleAttestChallenge)
	preAuth.POST("/attest/verify", s.handleAttestVerify)

	// Brokered endpoints prove device trust but carry no user identity.
	brokered := s.engine.Group("/", s.PreAuthRateLimit(), s.AttestGuard())
	brokered.POST("/voice/credentials", s.handleVoiceCredentials)
	brokered.POST("/oauth/token", s.handleOAuthToken)
	brokered.POST("/oauth/refresh", s.handleOAuthRefresh)

	credits := s.engine.Group("/credits", s.RequireUser(), s.PostAuthRateLimit(), s.AttestGuard())
	credits.POST("/transactions/sync", s.handleTransactionsSync)
	credits.POST("/usage/track", s.handleUsageTrack)
	credits.GET("/balance", s.handleBalance)
}

func registerRoutes(s *Server) {
	s.RegisterRoutes()
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
