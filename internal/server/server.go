package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/admin"
	"github.com/ronitlabs/talktime/internal/auth"
	authdomain "github.com/ronitlabs/talktime/internal/auth/domain"
	careplandomain "github.com/ronitlabs/talktime/internal/careplan/domain"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/observability/metrics"
	paymentsdomain "github.com/ronitlabs/talktime/internal/payments/domain"
	"github.com/ronitlabs/talktime/internal/ratelimit"
	sessiondomain "github.com/ronitlabs/talktime/internal/session/domain"
	"github.com/ronitlabs/talktime/internal/voicetoken"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	engine      *gin.Engine
	log         *zap.Logger
	cfg         config.Config
	authSvc     authdomain.Service
	ledgerSvc   ledgerdomain.Service
	sessionSvc  sessiondomain.Service
	paymentsSvc paymentsdomain.Service
	careplanSvc careplandomain.Service
	voiceSvc    *voicetoken.Service
	adminSvc    *admin.Service
	limiter     *ratelimit.Limiter
}

type Params struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	Cfg         config.Config
	AuthSvc     authdomain.Service
	LedgerSvc   ledgerdomain.Service
	SessionSvc  sessiondomain.Service
	PaymentsSvc paymentsdomain.Service
	CareplanSvc careplandomain.Service
	VoiceSvc    *voicetoken.Service
	AdminSvc    *admin.Service
	Limiter     *ratelimit.Limiter
}

func NewEngine(cfg config.Config, log *zap.Logger, m *metrics.Metering) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(SecurityHeaders())
	r.Use(m.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"status":  "healthy",
			"version": cfg.AppVersion,
		})
	})
	r.GET("/metrics", m.Handler())

	return r
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("server"),
		cfg:         p.Cfg,
		authSvc:     p.AuthSvc,
		ledgerSvc:   p.LedgerSvc,
		sessionSvc:  p.SessionSvc,
		paymentsSvc: p.PaymentsSvc,
		careplanSvc: p.CareplanSvc,
		voiceSvc:    p.VoiceSvc,
		adminSvc:    p.AdminSvc,
		limiter:     p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine
	userAuth := auth.RequireUser(s.authSvc)
	adminAuth := auth.RequireAdmin(s.authSvc)

	api := r.Group("/api")
	{
		api.POST("/signup", s.limiter.Middleware(ratelimit.PerHour("signup", 10)), s.Signup)
		api.POST("/login", s.limiter.Middleware(ratelimit.PerHour("login", 20)), s.Login)
		api.POST("/google-signin", s.limiter.Middleware(ratelimit.PerHour("google_signin", 30)), s.GoogleSignIn)

		api.GET("/talktime", userAuth, s.TalkTime)
		api.POST("/session/start", userAuth, s.SessionStart)
		api.POST("/heartbeat", userAuth, s.limiter.Middleware(ratelimit.PerMinute("heartbeat", 60)), s.Heartbeat)
		api.POST("/session/end", userAuth, s.SessionEnd)

		api.POST("/upload-session", userAuth, s.limiter.Middleware(ratelimit.PerHour("upload_session", 10)), s.UploadSession)

		payments := api.Group("/payments/razorpay")
		{
			payments.POST("/order", userAuth, s.limiter.Middleware(ratelimit.PerHour("payment_order", 20)), s.PaymentOrder)
			payments.POST("/verify", userAuth, s.limiter.Middleware(ratelimit.PerHour("payment_verify", 20)), s.PaymentVerify)
		}

		adm := api.Group("/admin")
		{
			adm.POST("/login", s.limiter.Middleware(ratelimit.PerHour("admin_login", 10)), s.AdminLogin)
			adm.GET("/users", adminAuth, s.AdminListUsers)
			adm.GET("/stats", adminAuth, s.AdminStats)
			adm.POST("/talktime", adminAuth, s.AdminTalkTime)
			adm.POST("/community", adminAuth, s.AdminCommunity)
			adm.POST("/reset", adminAuth, s.AdminReset)
			adm.DELETE("/users/:email", adminAuth, s.AdminDeleteUser)
		}
	}

	r.GET("/conversation-token", userAuth, s.limiter.Middleware(ratelimit.PerMinute("conversation_token", 5)), s.ConversationToken)
	r.GET("/blueprint/:id", s.ViewBlueprint)
}

func run(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
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

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)
