// geoblock-core is a geolocation request guard: it fronts a WordPress-style
// application, classifies each request into a validation hook, and passes or
// blocks it by country, ASN, failed-login counters and bot heuristics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carbocation/interpose"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/dnslkup"
	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/health"
	"github.com/dobrevit/geoblock-core/pkg/ipcache"
	"github.com/dobrevit/geoblock-core/pkg/logstore"
	"github.com/dobrevit/geoblock-core/pkg/middleware"
	"github.com/dobrevit/geoblock-core/pkg/validate"
)

// Server wires the guard middleware, the admin API and the background
// garbage collector.
type Server struct {
	middleware *interpose.Middleware
	router     *mux.Router
	settings   *config.Settings
	logger     *log.Logger

	store    ipcache.Store
	pipeline *validate.Pipeline
	logs     *logstore.MemoryLog
	stats    *logstore.Stats

	t tomb.Tomb
}

// NewServer assembles everything from settings.
func NewServer(settings *config.Settings) (*Server, error) {
	logger := log.StandardLogger()

	store, err := ipcache.NewStore(settings.Cache)
	if err != nil {
		return nil, err
	}

	providers, provErrs := geo.ValidProviders(settings, store)
	for _, err := range provErrs {
		logger.WithError(err).Warn("Geolocation provider disabled")
	}
	chain := &geo.Chain{Providers: providers, UseASN: settings.Geo.UseASN}

	logs := logstore.NewMemoryLog(0)
	stats := logstore.NewStats()

	pipeline := validate.New(settings, chain, store)
	pipeline.Logs = logs
	pipeline.Stats = stats
	if settings.Public.DNSLookup {
		pipeline.Resolver = dnslkup.NewNetResolver(settings.Geo.Timeout)
	}

	s := &Server{
		middleware: interpose.New(),
		router:     mux.NewRouter(),
		settings:   settings,
		logger:     logger,
		store:      store,
		pipeline:   pipeline,
		logs:       logs,
		stats:      stats,
	}

	chainMW := middleware.NewChain(logger)
	chainMW.Add(middleware.Middleware{
		Name:     "guard",
		Priority: middleware.PriorityHigh,
		Handler:  middleware.NewGuard(pipeline).Middleware(),
	})
	chainMW.Add(middleware.Middleware{
		Name:     "security-headers",
		Priority: middleware.PriorityMedium,
		Handler:  middleware.SecurityHeaders(),
	})
	chainMW.Add(middleware.Middleware{
		Name:     "access-log",
		Priority: middleware.PriorityLow,
		Handler:  middleware.AccessLog(logger),
	})

	s.middleware.Use(recoveryMiddleware(logger))
	s.middleware.Use(chainMW.Build())

	s.registerRoutes()
	s.middleware.UseHandler(s.router)
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	healthHandler := health.NewHandler(s.logger)
	healthHandler.Register("cache", func() error {
		_, err := s.store.Count()
		return err
	})
	s.router.Handle("/health", healthHandler).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/logs", s.handleLogs).Methods("GET")
	api.HandleFunc("/logs/{ip}", s.handleLogsByIP).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheCount).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheClear).Methods("DELETE")
	api.HandleFunc("/cache/{ip}", s.handleCacheGet).Methods("GET")
	api.HandleFunc("/cache/{ip}", s.handleCacheDelete).Methods("DELETE")
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, s.logs.Recent(n))
}

func (s *Server) handleLogsByIP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logs.Search(mux.Vars(r)["ip"]))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats.Snapshot())
}

func (s *Server) handleCacheCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"entries": count})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Get(mux.Vars(r)["ip"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(mux.Vars(r)["ip"]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// startGC runs the cache and log sweeps out of band so they never block a
// request-path validation.
func (s *Server) startGC() {
	interval := s.settings.Cache.GCInterval
	if interval <= 0 {
		// Keep the tomb tracked so shutdown's Wait returns.
		s.t.Go(func() error {
			<-s.t.Dying()
			return nil
		})
		return
	}
	s.t.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.t.Dying():
				return nil
			case <-ticker.C:
				dropped, err := s.store.GC(s.settings.Cache.Time)
				if err != nil {
					s.logger.WithError(err).Warn("Cache sweep failed")
					continue
				}
				expired := s.logs.GC(s.settings.Cache.ExpLogs)
				s.logger.WithFields(log.Fields{
					"cache_dropped": dropped,
					"logs_dropped":  expired,
				}).Debug("Garbage collection completed")
			}
		}
	})
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.middleware,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.startGC()

	go func() {
		s.logger.WithField("addr", addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.t.Kill(nil)
	if err := s.t.Wait(); err != nil {
		s.logger.WithError(err).Warn("Background task error")
	}
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Warn("Cache close error")
	}
	return srv.Shutdown(ctx)
}

func recoveryMiddleware(logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(log.Fields{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func configureLogging(cfg config.LoggingConfig) {
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML settings file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load settings")
	}
	configureLogging(settings.Logging)

	server, err := NewServer(settings)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize server")
	}

	if err := server.Start(settings.Server.Bind); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}
