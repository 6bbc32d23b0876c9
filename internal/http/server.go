package http

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"gameledger/internal/core"
	"gameledger/internal/log"
)

// Ledger is the business layer the handlers call. *ledger.Ledger satisfies it.
type Ledger interface {
	StartGame(ctx context.Context, description string) (int64, error)
	SaveTransaction(ctx context.Context, gameID int64, userID string, amount int64) error
	AllTransactions(ctx context.Context) ([]core.Transaction, error)
	Profit(ctx context.Context) ([]core.Profit, error)
	ProfitByDay(ctx context.Context) ([]core.DailyProfit, error)
	Games(ctx context.Context) ([]core.Game, error)
	ActiveGame(ctx context.Context) (core.Game, bool, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr           string
	PublicDir      string
	RateLimit      int // requests per minute per client IP, 0 disables
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Server struct {
	http.Server
	ledger    Ledger
	pinger    Pinger
	logger    *log.Logger
	publicDir string

	shutdownOnce sync.Once
}

// NewServer configures middleware and routes, returning a ready-to-run server.
func NewServer(cfg Config, l Ledger, p Pinger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		Server: http.Server{
			Addr:           cfg.Addr,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   cfg.RequestTimeout + 5*time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 16,
		},
		ledger:    l,
		pinger:    p,
		logger:    logger.WithComponent(log.ComponentHTTP),
		publicDir: cfg.PublicDir,
	}
	s.Handler = s.routes(cfg)
	return s
}

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(func(r *http.Request) string {
		return middleware.GetReqID(r.Context())
	}))
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.Limit(cfg.RateLimit, time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return extractClientIP(r), nil
			})))
	}
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Post("/start_game", s.handleStartGame)
	r.Post("/save_transaction", s.handleSaveTransaction)
	r.Get("/get_transactions", s.handleTransactions)
	r.Get("/get_profit", s.handleProfit)
	r.Get("/get_profit_by_day", s.handleProfitByDay)
	r.Get("/get_games", s.handleGames)
	r.Get("/get_active_game", s.handleActiveGame)

	r.Get("/*", s.staticHandler().ServeHTTP)

	return r
}

// accessLog writes one start and one completion line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	sl := log.NewStructuredLogger(s.logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		clientIP := extractClientIP(r)
		requestID := middleware.GetReqID(r.Context())

		sl.LogHTTPStart(r.Context(), r, clientIP, requestID)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			sl.LogHTTPEnd(r.Context(), r, status, time.Since(start).Milliseconds(), clientIP, requestID)
		}()

		next.ServeHTTP(ww, r)
	})
}

// staticHandler serves files from the public directory. Directories are only
// served through their index.html; everything else missing is 404.
func (s *Server) staticHandler() http.Handler {
	if strings.TrimSpace(s.publicDir) == "" {
		return http.NotFoundHandler()
	}
	return http.FileServer(filesOnly{http.Dir(s.publicDir)})
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := f.fs.Open(strings.TrimSuffix(name, "/") + "/index.html")
		if err != nil {
			file.Close()
			return nil, fs.ErrNotExist
		}
		index.Close()
	}
	return file, nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
