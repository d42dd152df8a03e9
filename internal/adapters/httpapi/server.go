// Package httpapi exposes the engines to operators: read-only ledger, grid and
// status views, plus reconcile, pause and resume actions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/gridbot/internal/application/engine"
	"github.com/alejandrodnm/gridbot/internal/domain"
)

const defaultMatchLimit = 50

// Journal is the read side of the audit store.
type Journal interface {
	MatchResults(ctx context.Context, pair string, limit int) ([]domain.MatchResult, error)
	Reconciliations(ctx context.Context, pair string, limit int) ([]domain.ReconciliationReport, error)
}

// Config configures the server.
type Config struct {
	Addr         string
	AllowOrigins []string
	Debug        bool
}

// Server is the operator API.
type Server struct {
	cfg      Config
	router   *gin.Engine
	registry *engine.Registry
	journal  Journal
	metrics  http.Handler
}

// New builds the router. journal and metrics may be nil.
func New(cfg Config, registry *engine.Registry, journal Journal, metrics http.Handler) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	if len(cfg.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		router.Use(cors.New(corsConfig))
	}

	s := &Server{
		cfg:      cfg,
		router:   router,
		registry: registry,
		journal:  journal,
		metrics:  metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	pairs := s.router.Group("/pairs")
	pairs.GET("", s.handleListPairs)

	p := pairs.Group("/:pair", s.resolvePair)
	p.GET("/status", s.handleStatus)
	p.GET("/ledger", s.handleLedger)
	p.GET("/grid", s.handleGrid)
	p.GET("/matches", s.handleMatches)
	p.GET("/reconciliations", s.handleReconciliations)
	p.POST("/reconcile", s.handleReconcile)
	p.POST("/pause", s.handlePause)
	p.POST("/resume", s.handleResume)
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi.ListenAndServe: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.ListenAndServe: shutdown: %w", err)
	}
	slog.Info("httpapi: stopped")
	return nil
}

// --- middleware ---

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("httpapi: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Microsecond),
		)
	}
}

const engineKey = "engine"

// resolvePair carga el engine del par o corta con 404.
func (s *Server) resolvePair(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("pair"))
	e, ok := s.registry.Get(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, fmt.Sprintf("unknown pair %s", symbol))
		c.Abort()
		return
	}
	c.Set(engineKey, e)
	c.Next()
}

func engineFrom(c *gin.Context) *engine.Engine {
	return c.MustGet(engineKey).(*engine.Engine)
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// --- handlers ---

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"pairs":  s.registry.Pairs(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListPairs(c *gin.Context) {
	out := make([]engine.Status, 0)
	for _, e := range s.registry.All() {
		out = append(out, e.Status())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, engineFrom(c).Status())
}

// LedgerView is the ledger as served over HTTP.
type LedgerView struct {
	Pair        string                `json:"pair"`
	Holdings    float64               `json:"holdings"`
	AverageCost float64               `json:"averageCost"`
	Ledger      domain.LedgerSnapshot `json:"ledger"`
}

func (s *Server) handleLedger(c *gin.Context) {
	e := engineFrom(c)
	snap := e.LedgerSnapshot()
	st := e.Status()
	c.JSON(http.StatusOK, LedgerView{
		Pair:        st.Pair,
		Holdings:    snap.Holdings(),
		AverageCost: st.AverageCost,
		Ledger:      snap,
	})
}

// GridView is the GridSpec in force plus the resting orders.
type GridView struct {
	Pair       string             `json:"pair"`
	Spec       domain.GridSpec    `json:"spec"`
	OpenOrders []domain.OpenOrder `json:"openOrders"`
}

func (s *Server) handleGrid(c *gin.Context) {
	e := engineFrom(c)
	orders := e.OpenOrders()
	if orders == nil {
		orders = []domain.OpenOrder{}
	}
	c.JSON(http.StatusOK, GridView{
		Pair:       e.Pair().Symbol,
		Spec:       e.GridSpec(),
		OpenOrders: orders,
	})
}

func (s *Server) handleMatches(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusNotImplemented, "no audit journal configured")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	matches, err := s.journal.MatchResults(c.Request.Context(), engineFrom(c).Pair().Symbol, limit)
	if err != nil {
		slog.Error("httpapi: match results", "err", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []domain.MatchResult{}
	}
	c.JSON(http.StatusOK, matches)
}

func (s *Server) handleReconciliations(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusNotImplemented, "no audit journal configured")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	reports, err := s.journal.Reconciliations(c.Request.Context(), engineFrom(c).Pair().Symbol, limit)
	if err != nil {
		slog.Error("httpapi: reconciliations", "err", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []domain.ReconciliationReport{}
	}
	c.JSON(http.StatusOK, reports)
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultMatchLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
		return 0, false
	}
	return limit, true
}

func (s *Server) handleReconcile(c *gin.Context) {
	e := engineFrom(c)
	// la reconciliación termina aunque el cliente se desconecte
	report, err := e.TriggerReconciliation(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNotStarted) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("httpapi: reconciliation failed", "pair", e.Pair().Symbol, "err", err)
		errorResponse(c, status, err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePause(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "paused via API"
	}
	e := engineFrom(c)
	e.Pause(req.Reason)
	c.JSON(http.StatusOK, e.Status())
}

func (s *Server) handleResume(c *gin.Context) {
	e := engineFrom(c)
	if err := e.Resume(); err != nil {
		if errors.Is(err, engine.ErrDriftPause) {
			errorResponse(c, http.StatusConflict, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, e.Status())
}
