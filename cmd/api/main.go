package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gatepass/api/swagger" // swagger docs
	"gatepass/internal/config"
	"gatepass/internal/database"
	"gatepass/internal/handler"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/middleware"
	"gatepass/internal/repository"
	"gatepass/internal/service"
	"gatepass/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Gatepass API
// @version         1.0
// @description     Two-stage gatepass approval workflow with an audit trail and superadmin impersonation.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logger.L.Fatalw("failed to load configuration", "error", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		logger.L.Fatalw("failed to build logger", "error", err)
	}
	defer func() { _ = log.Sync() }()
	logger.L = log

	db, err := database.NewConnection(cfg.Database.GetDSN(), log)
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	log.Infow("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Name)

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(log, cfg.Server.CORSOrigins)
	go wsHub.Run()

	signer := identity.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db, cfg.Database.TxTimeout)
	userRepo := repository.NewUserRepository(db)
	gatepassRepo := repository.NewGatepassRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	statisticsRepo := repository.NewStatisticsRepository(db)
	sessionRepo := repository.NewImpersonationRepository(db)

	auth := middleware.NewAuth(signer, userRepo, sessionRepo, log, cfg.Server.SecureCookies)

	auditService := service.NewAuditService(auditRepo, log)
	impersonationService := service.NewImpersonationService(txManager, userRepo, sessionRepo, auditService, auth, log)
	userService := service.NewUserService(txManager, userRepo, gatepassRepo, auditRepo, auditService, signer, impersonationService, auth, log)
	gatepassService := service.NewGatepassService(txManager, gatepassRepo, userRepo, unitRepo, auditService, wsHub, log, service.GatepassConfig{
		NumberPrefix: cfg.Gatepass.NumberPrefix,
		Location:     cfg.Gatepass.Location(),
	})
	unitService := service.NewUnitService(txManager, unitRepo, auditService)
	statisticsService := service.NewStatisticsService(statisticsRepo)

	if err := userService.EnsureSuperadmin(context.Background(), cfg.Bootstrap.Username, cfg.Bootstrap.Email, cfg.Bootstrap.Password); err != nil {
		log.Fatalw("failed to bootstrap superadmin", "error", err)
	}

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, auditService, auth)
	impersonationHandler := handler.NewImpersonationHandler(impersonationService, signer, auth)
	gatepassHandler := handler.NewGatepassHandler(gatepassService, auditService, auth)
	auditHandler := handler.NewAuditHandler(auditService, auth)
	unitHandler := handler.NewUnitHandler(unitService, auth)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService, auth)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.RequestLogger(log),
		middleware.Metrics(),
	)

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader, "Content-Disposition"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// API Routing
	public := router.Group("")
	public.Use(middleware.ErrorHandler(log))
	userHandler.RegisterPublicRoutes(public, middleware.NewRateLimiter(time.Second, 10))

	private := router.Group("")
	private.Use(middleware.ErrorHandler(log), auth.Authenticate())
	userHandler.RegisterRoutes(private)
	impersonationHandler.RegisterRoutes(private)
	gatepassHandler.RegisterRoutes(private)
	auditHandler.RegisterRoutes(private)
	unitHandler.RegisterRoutes(private)
	statisticsHandler.RegisterRoutes(private)
	private.GET("/ws", wsHub.Serve)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}
}
