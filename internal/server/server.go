package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/access"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/auth"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/gc"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/upload"
)

type Config struct {
	Addr string // e.g. ":8080"
	// BaseURL overrides the origin used in share links. Empty means the
	// request's own scheme and host.
	BaseURL       string
	RateRPS       float64
	RateBurst     int
	CORSOrigins   []string
	SecureCookies bool
}

// Deps are the services behind the routes.
type Deps struct {
	Repo        transfer.Repository
	Store       objstore.Store
	Coordinator *upload.Coordinator
	Relay       *upload.Relay
	Gate        *access.Gate
	Grants      *access.GrantCodec
	Collector   *gc.Collector
	Auth        auth.Authenticator
	Sessions    *auth.Sessions
	Log         *zap.Logger
}

type Server struct {
	cfg     Config
	deps    Deps
	log     *zap.Logger
	limiter *rateLimiter
	lockout *loginLockout
	stop    context.CancelFunc

	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log,
		lockout: newLoginLockout(5, 15*time.Minute, 10*time.Minute),
	}
	if cfg.RateRPS > 0 {
		s.limiter = newRateLimiter(cfg.RateRPS, cfg.RateBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.janitor(ctx)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(securityHeadersMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Get("/d/{token}", s.handleDownloadPage)
	r.Post("/d/{token}", s.handleUnlock)
	r.Get("/stream/{token}", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Sessions.Require)

		r.Route("/api/uploads", func(r chi.Router) {
			r.Post("/multipart", s.handleInitiate)
			r.Post("/multipart/sign", s.handleSign)
			r.Post("/multipart/complete", s.handleComplete)
			r.Post("/multipart/abort", s.handleAbort)
			r.Post("/relay", s.handleRelay)
		})
		r.Post("/api/admin/gc", s.handleGC)
	})

	return r
}

// janitor prunes the in-memory limiter and lockout tables until ctx ends.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.limiter != nil {
				s.limiter.prune()
			}
			s.lockout.prune()
		}
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	return s.httpServer.Shutdown(ctx)
}
