package http

import (
	"context"
	stdhttp "net/http"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/service/calls"
	"github.com/vovakirdan/wirecall/internal/store"
)

// CallController is the session manager surface the API drives.
type CallController interface {
	StartCall(ctx context.Context, req calls.StartRequest) (*core.CallView, error)
	Answer(ctx context.Context) (*core.CallView, error)
	End()
	ToggleMute() *core.CallView
	ToggleCamera() *core.CallView
	Call() *core.CallView
	Registration() core.RegistrationView
	Subscribe(id string) *core.Subscriber
	Unsubscribe(s *core.Subscriber)
}

// SessionController is the identity source.
type SessionController interface {
	Activate(ctx context.Context, token string) (*auth.Session, error)
	Deactivate()
	Current() (*auth.Session, error)
}

// Deps are the services behind the control API.
type Deps struct {
	Calls    CallController
	Sessions SessionController
	// History is optional; without it /api/history is not served.
	History store.HistoryStore
	// Metrics is optional; without it /metrics is not served.
	Metrics stdhttp.Handler
	// Clock drives the rate limiter. Nil uses the wall clock.
	Clock clock.Clock
}

// NewRouter builds the gin engine with every route.
func NewRouter(cfg *config.Config, deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Calls, logger)))

	sessionHandlers := NewSessionHandlers(deps.Sessions, logger)
	callHandlers := NewCallHandlers(deps.Calls, deps.History, logger)

	api := router.Group("/api")
	api.GET("/session", sessionHandlers.Get)
	api.PUT("/session", sessionHandlers.Activate)
	api.DELETE("/session", sessionHandlers.Deactivate)
	api.GET("/registration", callHandlers.Registration)

	protected := api.Group("")
	protected.Use(SessionMiddleware(deps.Sessions, logger))
	protected.GET("/call", callHandlers.Get)
	protected.POST("/call/start",
		RateLimitMiddleware(newRateLimiter(cfg.CallRateLimit, deps.Clock), logger),
		callHandlers.Start)
	protected.POST("/call/answer", callHandlers.Answer)
	protected.POST("/call/end", callHandlers.End)
	protected.POST("/call/mute", callHandlers.Mute)
	protected.POST("/call/camera", callHandlers.Camera)
	if deps.History != nil {
		protected.GET("/history", callHandlers.History)
		protected.GET("/history/:id", callHandlers.HistoryEntry)
	}

	return router
}

// NewServer builds an HTTP server for the control API.
func NewServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, deps, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
