package router

import (
	"time"

	"github.com/verilians/VeriPharm-sub000/internal/config"
	"github.com/verilians/VeriPharm-sub000/internal/handler"
	"github.com/verilians/VeriPharm-sub000/internal/middleware"
	"github.com/verilians/VeriPharm-sub000/internal/repository"
	"github.com/verilians/VeriPharm-sub000/internal/service"
	"github.com/verilians/VeriPharm-sub000/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	// ── Repositories ─────────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	productRepo := repository.NewProductRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)
	movementRepo := repository.NewStockMovementRepository(db)

	// Worker dispatcher — injected into services that enqueue async jobs
	dispatcher := worker.NewDispatcher(rdb)

	// ── Services ─────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(userRepo, cfg)
	productSvc := service.NewProductService(productRepo, movementRepo)
	reconciliationSvc := service.NewReconciliationService(auditRepo, productRepo, correctionRepo, movementRepo, dispatcher, cfg)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(authSvc)
	usersH := handler.NewUsersHandler(authSvc)
	productsH := handler.NewProductsHandler(productSvc)
	auditsH := handler.NewAuditsHandler(reconciliationSvc)
	priceH := handler.NewPriceCheckHandler(productRepo, rdb)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb))

	// Auth (public)
	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", middleware.LoginRateLimiter(), authH.Login)
		auth.POST("/refresh", authH.Refresh)
	}

	// Price check — no auth required
	r.GET("/v1/price/:barcode", priceH.GetByBarcode)

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		// Roles: cashier, manager, admin — declared per-endpoint

		// Product catalog — every role can read (POS and audit screens)
		v1.GET("/products", middleware.RequireRole("cashier", "manager", "admin"), productsH.List)
		v1.GET("/products/:id", middleware.RequireRole("cashier", "manager", "admin"), productsH.GetByID)
		// Manual stock adjustment — manager or admin
		v1.PATCH("/products/:id/stock", middleware.RequireRole("manager", "admin"), productsH.AdjustStock)
		// Write operations — admin only
		prods := v1.Group("/products", middleware.RequireRole("admin"))
		{
			prods.POST("", productsH.Create)
			prods.PUT("/:id", productsH.Update)
			prods.DELETE("/:id", productsH.Deactivate)
		}

		v1.GET("/stock-movements", middleware.RequireRole("manager", "admin"), productsH.ListMovements)

		// Stock audits — manager or admin run the count and reconcile
		audits := v1.Group("/audits", middleware.RequireRole("manager", "admin"))
		{
			audits.POST("", auditsH.Start)
			audits.GET("", auditsH.List)
			audits.GET("/current", auditsH.Current)
			audits.GET("/:id", auditsH.Get)
			audits.DELETE("/:id", auditsH.Delete)
			audits.POST("/:id/items", auditsH.AddItem)
			audits.POST("/:id/items/autofill", auditsH.AutoFill)
			audits.PUT("/:id/items/:item_id", auditsH.EditItem)
			audits.DELETE("/:id/items/:item_id", auditsH.RemoveItem)
			audits.PUT("/:id/draft", auditsH.SaveDraft)
			audits.POST("/:id/complete", auditsH.Complete)
			audits.POST("/:id/cancel", auditsH.Cancel)
			audits.GET("/:id/corrections", auditsH.Corrections)
		}

		usersGrp := v1.Group("/users", middleware.RequireRole("admin"))
		{
			usersGrp.POST("", usersH.Create)
			usersGrp.GET("", usersH.List)
			usersGrp.DELETE("/:id", usersH.Deactivate)
		}
	}

	// Swagger UI — development only
	if cfg.Env != "production" {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
