// Package diag exposes a loopback-only diagnostic HTTP server: health,
// Prometheus metrics, and a session-status snapshot, optionally behind a
// JWT bearer guard (ambient supplement, not part of the IRC/chat wire).
package diag

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/localslackirc/bridge/internal/health"
	"github.com/localslackirc/bridge/internal/metrics"
	"github.com/localslackirc/bridge/internal/supervisor"
)

// Config configures the diagnostic server.
type Config struct {
	ListenAddr string
	JWTSecret  string // empty disables the bearer guard
}

// Server is a small Fiber app exposing /healthz, /metrics, and /statusz.
type Server struct {
	app *fiber.App
	cfg Config
}

// New builds the diagnostic app, wiring checker/metrics/session log into
// their respective routes.
func New(cfg Config, checker *health.Checker, m *metrics.Metrics, sessions *supervisor.SessionLog, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	if cfg.JWTSecret != "" {
		app.Use(newJWTGuard(cfg.JWTSecret))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		if checker.IsReady(c.Context()) {
			return c.JSON(fiber.Map{"status": "ready"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	})

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	app.Get("/statusz", func(c *fiber.Ctx) error {
		events := sessions.Recent(20)
		out := make([]fiber.Map, 0, len(events))
		for _, e := range events {
			out = append(out, fiber.Map{
				"kind":      e.Kind,
				"detail":    e.Detail,
				"timestamp": e.Timestamp,
			})
		}
		return c.JSON(fiber.Map{"recent_sessions": out})
	})

	return &Server{app: app, cfg: cfg}
}

// Serve binds to cfg.ListenAddr, refusing a non-loopback bind.
func (s *Server) Serve() error {
	if !isLoopback(s.cfg.ListenAddr) {
		return errNonLoopback(s.cfg.ListenAddr)
	}
	return s.app.Listen(s.cfg.ListenAddr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

type errNonLoopback string

func (e errNonLoopback) Error() string {
	return "diag: refusing to bind non-loopback address " + string(e)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// newJWTGuard returns Fiber middleware requiring a valid HS256 bearer token.
func newJWTGuard(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		return c.Next()
	}
}
