package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fundingheat/config"
	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
)

// Runner rebuilds the heatmap.
type Runner interface {
	Run(ctx context.Context) (*models.HeatmapMatrix, error)
}

// Server serves the latest heatmap over HTTP and refreshes it on a ticker.
// It is also a renderer: the pipeline pushes every built matrix into it.
type Server struct {
	cfg        config.DashboardConfig
	appName    string
	log        *logger.Log
	state      *matrixState
	logStore   *logStore
	httpServer *http.Server
	now        func() time.Time
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, appName string, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}

	logStore := newLogStore(200)
	log.AddHook(logStore)

	return &Server{
		cfg:      cfg,
		appName:  appName,
		log:      log,
		state:    &matrixState{},
		logStore: logStore,
		now:      time.Now,
	}, nil
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Render stores m as the matrix served by /api/heatmap.
func (s *Server) Render(ctx context.Context, m *models.HeatmapMatrix) error {
	if m == nil {
		return errors.New("nil matrix")
	}
	s.state.set(m, s.now().UTC())
	return nil
}

// Run serves HTTP and refreshes through runner until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context, runner Runner) error {
	if s == nil {
		return nil
	}
	defer s.logStore.close()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	if runner != nil {
		go s.refreshLoop(loopCtx, runner)
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address":          s.cfg.Address,
		"refresh_interval": s.cfg.RefreshInterval.String(),
	}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) refreshLoop(ctx context.Context, runner Runner) {
	s.refresh(ctx, runner)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, runner)
		}
	}
}

// refresh records the outcome of one run. The matrix itself arrives through
// Render, since the server is registered as one of the pipeline's renderers.
func (s *Server) refresh(ctx context.Context, runner Runner) {
	_, err := runner.Run(ctx)
	s.state.recordRun(s.now().UTC(), err)
	if err != nil && ctx.Err() == nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("heatmap refresh failed")
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		snap := s.state.snapshot()
		body := gin.H{
			"app":        s.appName,
			"ready":      snap.Matrix != nil,
			"last_error": snap.LastError,
		}
		if !snap.LastRun.IsZero() {
			body["last_run"] = snap.LastRun.Format(time.RFC3339Nano)
		}
		c.JSON(http.StatusOK, body)
	})

	router.GET("/api/heatmap", func(c *gin.Context) {
		snap := s.state.snapshot()
		if snap.Matrix == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "heatmap not built yet"})
			return
		}
		m := snap.Matrix
		if raw := strings.TrimSpace(c.Query("symbols")); raw != "" {
			m = filterMatrix(m, strings.Split(raw, ","))
		}
		c.JSON(http.StatusOK, gin.H{
			"built_at": snap.BuiltAt.Format(time.RFC3339Nano),
			"matrix":   m,
		})
	})

	router.GET("/api/symbols", func(c *gin.Context) {
		snap := s.state.snapshot()
		if snap.Matrix == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "heatmap not built yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"symbols": snap.Matrix.Symbols,
			"dropped": snap.Matrix.Dropped,
		})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// filterMatrix keeps the requested rows. Global bounds are left untouched so
// colour scales stay comparable across requests.
func filterMatrix(m *models.HeatmapMatrix, symbols []string) *models.HeatmapMatrix {
	out := *m
	out.Symbols = nil
	out.Values = nil
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if row, ok := m.Row(sym); ok {
			out.Symbols = append(out.Symbols, sym)
			out.Values = append(out.Values, row)
		}
	}
	return &out
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
