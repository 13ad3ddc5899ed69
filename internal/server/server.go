package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/exokit-os/exocore/internal/api/http"
	"github.com/exokit-os/exocore/internal/api/middleware"
	"github.com/exokit-os/exocore/internal/config"
	"github.com/exokit-os/exocore/internal/kernel"
	"github.com/exokit-os/exocore/internal/logging"
	"github.com/exokit-os/exocore/internal/monitoring"
	"github.com/exokit-os/exocore/internal/resource"
	"github.com/exokit-os/exocore/internal/sched"
	"github.com/exokit-os/exocore/internal/syscall"
	"github.com/exokit-os/exocore/internal/ws"
)

// Server owns the HTTP surface over one kernel context.
type Server struct {
	router  *gin.Engine
	kernel  *kernel.Kernel
	metrics *monitoring.Metrics
	log     *logging.Logger
	http    *http.Server
	done    chan struct{}
}

// observer adapts the metrics collector to the dispatcher.
type observer struct {
	metrics *monitoring.Metrics
}

func (o observer) ObserveSyscall(call string, result syscall.Result, elapsed time.Duration) {
	o.metrics.ObserveSyscall(call, result.String())
	if call == "map_memory" {
		o.metrics.ObserveMapBatch(elapsed)
	}
}

// New builds the kernel context and its HTTP surface.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewDefault()
	}

	k := kernel.New(kernel.Config{
		Memory: resource.Config{
			TotalBytes:        cfg.Memory.TotalBytes,
			ProcessQuotaBytes: cfg.Memory.ProcessQuotaBytes,
		},
		Sched: sched.Config{
			QuantumCap:     cfg.Sched.QuantumCap,
			DefaultQuantum: cfg.Sched.DefaultQuantum,
		},
	}, log.Named("kernel"))

	metrics := monitoring.NewMetrics()
	dispatcher := syscall.NewDispatcher(k, k.Capabilities(), observer{metrics: metrics})
	handlers := apihttp.NewHandlers(k, dispatcher, log.Named("api"))
	wsHandler := ws.NewHandler(k, log.Named("ws"), metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Process lifecycle, driven by the external loader.
	router.GET("/processes", handlers.ListProcesses)
	router.POST("/processes", handlers.RegisterProcess)
	router.DELETE("/processes/:id", handlers.DeregisterProcess)

	// Introspection.
	router.GET("/processes/:id/memory", handlers.ProcessMemory)
	router.GET("/processes/:id/capabilities", handlers.ProcessCapabilities)
	router.GET("/scheduler/stats", handlers.SchedulerStats)
	router.GET("/memory/stats", handlers.MemoryStats)

	// Syscall harness.
	router.POST("/syscall", handlers.ExecuteSyscall)

	// Observability.
	router.GET("/events/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s := &Server{
		router:  router,
		kernel:  k,
		metrics: metrics,
		log:     log,
		done:    make(chan struct{}),
	}
	go s.syncGauges()
	return s, nil
}

// Kernel exposes the kernel context, mainly for the boot sequence.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// syncGauges mirrors kernel counters into Prometheus once a second.
func (s *Server) syncGauges() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last sched.Stats
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		fs := s.kernel.Frames().Stats()
		s.metrics.SetBytesUsed(fs.UsedBytes)
		for class, count := range fs.LiveFrames {
			s.metrics.SetFramesLive(class, count)
		}
		s.metrics.SetProcessesActive(len(s.kernel.Processes()))

		ss := s.kernel.Scheduler().Stats()
		if d := ss.ContextSwitches - last.ContextSwitches; d > 0 {
			s.metrics.ContextSwitches.Add(float64(d))
		}
		if d := ss.Preemptions - last.Preemptions; d > 0 {
			s.metrics.Preemptions.Add(float64(d))
		}
		if d := ss.Donations - last.Donations; d > 0 {
			s.metrics.Donations.Add(float64(d))
		}
		last = ss
	}
}

// Run serves until the listener fails or Close is called.
func (s *Server) Run(host, port string) error {
	addr := fmt.Sprintf("%s:%s", host, port)
	s.log.Info("serving", zap.String("addr", addr))
	s.http = &http.Server{Addr: addr, Handler: s.router}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the HTTP surface down gracefully.
func (s *Server) Close() error {
	close(s.done)
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
