package router

import (
	"time"

	"tably/config"
	"tably/internal/domain"
	"tably/internal/handler"
	"tably/internal/middleware"
	"tably/internal/repository"
	"tably/internal/service"
	"tably/internal/ws"
	"tably/pkg/cloudinary"
	"tably/pkg/issuer"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Setup wires repositories, services and routes. The returned Sweeper is
// started by the caller so its lifetime is tied to the process context.
func Setup(cfg *config.Config, db *gorm.DB, cloud cloudinary.Client) (*gin.Engine, *service.Sweeper) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Skip gin.Logger() to reduce log noise; use gin.Default() if you need request logging
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	redemptionRepo := repository.NewRedemptionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	rewardHub := ws.NewRewardHub()

	// Services
	authSvc := service.NewAuthService(cfg, userRepo)
	notifSvc := service.NewNotificationService(notificationRepo)
	rewardSvc := service.NewRewardService(cfg, ledgerRepo, voucherRepo, settingRepo, notifSvc, rewardHub)
	issuerClient := issuer.NewClient(cfg.Issuer.BaseURL, cfg.Issuer.APIKey, cfg.Issuer.Timeout)
	redemptionSvc := service.NewRedemptionService(cfg, ledgerRepo, voucherRepo, redemptionRepo, issuerClient, notifSvc, rewardHub)
	sweeper := service.NewSweeper(cfg, redemptionRepo, redemptionSvc, notifSvc, rewardHub)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	rewardHandler := handler.NewRewardHandler(rewardSvc)
	voucherHandler := handler.NewVoucherHandler(voucherRepo, redemptionSvc)
	adminVoucherHandler := handler.NewAdminVoucherHandler(voucherRepo, cloud)
	notificationHandler := handler.NewNotificationHandler(notificationRepo)
	feedbackWebhookHandler := handler.NewFeedbackWebhookHandler(cfg, rewardSvc)

	authMw := middleware.AuthRequired(&cfg.JWT)
	customerOnly := middleware.RequireRole(domain.RoleCustomer)
	ownerOnly := middleware.RequireRole(domain.RoleOwner)
	// Redemption gets its own tight per-user limit on top of the global one.
	redeemLimiter := middleware.RateLimitByUser(middleware.NewInMemoryRateLimiter(10, 60*time.Second))

	// Auth
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	// Rewards (customer)
	rewards := r.Group("/api/rewards", authMw, customerOnly)
	{
		rewards.GET("/balance", rewardHandler.GetBalance)
		rewards.GET("/transactions", rewardHandler.GetTransactions)
		rewards.GET("/stats", rewardHandler.GetStats)
		rewards.GET("/vouchers", voucherHandler.ListAvailable)
		rewards.POST("/redeem/:voucherId", redeemLimiter, voucherHandler.Redeem)
		rewards.GET("/my-vouchers", voucherHandler.ListMine)
		rewards.GET("/redemption/:id", voucherHandler.GetRedemption)
	}

	// Notifications
	me := r.Group("/api/me", authMw)
	{
		me.GET("/notifications", notificationHandler.List)
		me.PUT("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// Catalog management (owner)
	admin := r.Group("/api/admin/vouchers", authMw, ownerOnly)
	{
		admin.GET("", adminVoucherHandler.List)
		admin.POST("", adminVoucherHandler.Create)
		admin.PUT("/:id", adminVoucherHandler.Update)
		admin.DELETE("/:id", adminVoucherHandler.Delete)
		admin.POST("/:id/image", adminVoucherHandler.UploadImage)
	}

	// Internal webhooks (secret-authenticated, no JWT)
	r.POST("/api/v1/webhooks/feedback-approved", feedbackWebhookHandler.Handle)

	// Live balance pushes
	r.GET("/ws/rewards", ws.UpgradeRewardWS(&cfg.JWT, rewardHub))

	return r, sweeper
}
