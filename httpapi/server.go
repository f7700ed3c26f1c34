package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing/core"
)

// SignatureVerifier authenticates a raw ingestion body.
type SignatureVerifier interface {
	Verify(body []byte, headers http.Header) error
}

type Options struct {
	Config   core.HTTPConfig
	Logger   core.Logger
	Observer *core.Observer
	// Verifier, when set, guards POST /queues/:queue/jobs.
	Verifier SignatureVerifier
	// Metrics is mounted at GET /metrics when set.
	Metrics   http.Handler
	BodyLimit int
}

type Server struct {
	app     *fiber.App
	options Options
	logger  core.Logger
}

// New builds the fiber application. Handlers dispatch through the
// go-command dispatcher, so a billing bus must be subscribed.
func New(options Options) *Server {
	bodyLimit := options.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}
	s := &Server{
		options: options,
		logger:  glog.Ensure(options.Logger),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "go-billing",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	if s.options.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.options.Metrics))
	}
	s.app.Post("/webhooks/replay", s.replayWebhook)
	s.app.Post("/create-queue", s.createQueue)
	s.app.Post("/queues/:queue/jobs", s.enqueueEvent)

	admin := s.app.Group("/admin", s.adminAuth())
	admin.Get("/queues/:queue/stats", s.queueStats)
	admin.Get("/queues/:queue/jobs/:job/logs", s.jobLogs)
	admin.Get("/queues/:queue/dead", s.deadLettered)
	admin.Get("/endpoints", s.listEndpoints)
	admin.Post("/endpoints", s.createEndpoint)
	admin.Get("/endpoints/:id", s.getEndpoint)
	admin.Patch("/endpoints/:id", s.updateEndpoint)
	admin.Delete("/endpoints/:id", s.deleteEndpoint)
	admin.Get("/deliveries", s.listDeliveries)
	admin.Post("/events", s.dispatchEvent)
	admin.Get("/subscriptions", s.listSubscriptions)
	admin.Get("/subscriptions/:id", s.getSubscription)
}

// adminAuth requires basic auth when credentials are configured. Without
// credentials the admin surface is open, which Config.Validate rejects in
// production.
func (s *Server) adminAuth() fiber.Handler {
	user := strings.TrimSpace(s.options.Config.AdminUser)
	password := s.options.Config.AdminPassword
	if user == "" || password == "" {
		s.logger.Warn("admin routes mounted without basic auth")
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Realm: "billing-admin",
	})
}

func (s *Server) Listen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		addr = s.options.Config.Addr
	}
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
