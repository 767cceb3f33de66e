// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, rate limiting, and
// bearer-token authentication.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	_ "github.com/avachat/backend/docs"
	"github.com/avachat/backend/internal/config"
	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/http/handlers"
	"github.com/avachat/backend/internal/http/middleware"
	"github.com/avachat/backend/internal/repo"
	"github.com/avachat/backend/internal/secrets"
	"github.com/avachat/backend/internal/services"
	"github.com/avachat/backend/internal/session"

	"github.com/rs/zerolog/log"
)

// chatRepoShim adapts the repository free functions to the services.ChatRepo
// interface expected by ChatService. Services stay decoupled from the repo
// package while reusing its functions.
type chatRepoShim struct{}

func (chatRepoShim) ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db, userID)
}

func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

func (chatRepoShim) ListMessages(db *gorm.DB, chatID string) ([]domain.Message, error) {
	return repo.ListMessages(db, chatID)
}

func (chatRepoShim) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, userID, title)
}

func (chatRepoShim) DeleteChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteChat(ctx, db, id, userID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), idempotency and rate limiting,
// CORS and security headers, the public auth routes, and the bearer-guarded
// API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS, gzip, security headers
//  8. Auth, idempotency, and rate limiting run per route group so the
//     limiter can key by user and replays can bypass it
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all when none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Compress JSON responses; transcripts and chat lists benefit the most.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))
	}

	// Dependency injection: services from db + config
	key, err := secrets.ParseKey(cfg.EncryptionKey)
	if err != nil {
		// Load() validates the key; reaching this means routes were wired
		// with an unvalidated config.
		panic(err)
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		panic(err)
	}

	chatSvc := services.NewChatService(db, chatRepoShim{})
	msgSvc := &services.MessageService{
		DB:              db,
		MaxContentRunes: 4000,
		TitleMaxLen:     60,
		TitleLocale:     language.English,
	}
	settingsSvc := &services.SettingsService{DB: db, Cipher: cipher}
	authSvc := &services.AuthService{DB: db, JWTSecret: cfg.JWTSecret, TokenTTL: cfg.JWTTTL}
	sessions := &session.Manager{
		Messages:          msgSvc,
		Chats:             chatSvc,
		Settings:          settingsSvc,
		Log:               log.Logger,
		CompletionTimeout: cfg.CompletionTimeout,
		Autoload:          cfg.SessionAutoload,
	}

	h := handlers.New(chatSvc, msgSvc, settingsSvc, authSvc, sessions, db, cfg.IdempotencyTTL)

	// Public auth routes (rate limited by IP)
	authRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	auth := r.Group("/auth", authRL.Handler())
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// Versioned API: bearer auth, then idempotency (so replays can bypass
	// the per-user rate limiter), then the limiter.
	idemLookup := func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		return repo.HasIdempotency(ctx, db, userID, key, now)
	}
	apiRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Auth(cfg.JWTSecret),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idemLookup),
		apiRL.Handler(),
	)
	{
		// Chats
		api.GET("/chats", h.ListChats)
		api.GET("/chats/:id", h.GetChat)
		api.PATCH("/chats/:id", h.UpdateChatTitle)
		api.DELETE("/chats/:id", h.DeleteChat)

		// Messages
		api.POST("/messages", h.PostMessage)

		// Settings
		api.GET("/settings", h.GetSettings)
		api.POST("/settings", h.PutSettings)

		// Session orchestrator
		api.GET("/session", h.GetSession)
		api.POST("/session/messages", h.SendSessionMessage)
		api.POST("/session/new", h.NewSession)
		api.POST("/session/chats/:id", h.LoadSessionChat)
		api.PUT("/session/title", h.SaveSessionTitle)
		api.GET("/session/export", h.ExportSession)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
