package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/controllers"
	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/middleware"
	"github.com/dropgate/dropgate/preview"
	"github.com/dropgate/dropgate/store"
	"github.com/dropgate/dropgate/sweeper"
	"github.com/dropgate/dropgate/utils"
)

// Deps carries the wired components the router needs.
type Deps struct {
	Engine  *delivery.Engine
	Ledger  store.Ledger
	Blobs   store.BlobStore
	Cache   *store.GrantCache
	Policy  *delivery.Policy
	Broker  *preview.Broker
	Sweeper *sweeper.Sweeper
	Sink    events.Sink
	Log     *zap.SugaredLogger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Range"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "X-File-Name", "X-Original-Name", "X-File-Size", "X-Remaining-Downloads", "X-Expires-In"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	fileController := controllers.NewFileController(deps.Engine, deps.Ledger, deps.Blobs, deps.Cache, deps.Policy, deps.Sink, deps.Log)
	adminController := controllers.NewAdminController(deps.Engine, deps.Ledger, deps.Cache, deps.Sweeper, deps.Log)
	previewController := controllers.NewPreviewController(deps.Engine, deps.Broker, deps.Policy, deps.Log)

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	// anonymous delivery surface: the token is the credential
	r.GET("/r/:token", fileController.Download)
	r.POST("/preview/:token", middleware.RateLimitMiddleware(), previewController.Mint)
	r.GET("/preview/:token/:previewToken", previewController.Redeem)

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware())

	api.POST("/upload", middleware.OptionalAuth(), fileController.Upload)
	api.GET("/upload-limits", fileController.UploadLimits)
	api.GET("/public-status/:token", fileController.PublicStatus)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired())
	protected.GET("/myfiles", fileController.MyFiles)
	protected.GET("/status/:token", fileController.Status)
	protected.DELETE("/files/:token", adminController.Delete)
	protected.POST("/files/bulk-delete", adminController.BulkDelete)

	admin := protected.Group("/admin")
	admin.Use(middleware.AdminRequired())
	admin.POST("/restore/:token", adminController.Restore)
	admin.POST("/sweep", adminController.SweepNow)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
