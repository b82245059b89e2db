// Package middleware carries requests through the guard: hook
// classification, the validation pipeline, and the blocking response.
package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Priority defines middleware execution order.
type Priority int

const (
	// High priority runs first (the guard itself).
	PriorityHigh Priority = 100

	// Medium priority runs in the middle (headers, shaping).
	PriorityMedium Priority = 50

	// Low priority runs last (logging, metrics).
	PriorityLow Priority = 10
)

// Middleware is one named, prioritized handler wrapper.
type Middleware struct {
	Name     string
	Priority Priority
	Handler  func(http.Handler) http.Handler
}

// Chain manages ordered middleware execution for interpose.
type Chain struct {
	middlewares []Middleware
	logger      *log.Logger
}

// NewChain creates an empty middleware chain.
func NewChain(logger *log.Logger) *Chain {
	return &Chain{logger: logger}
}

// Add inserts a middleware, keeping the chain sorted so higher priorities
// run first.
func (c *Chain) Add(m Middleware) {
	c.middlewares = append(c.middlewares, m)
	for i := len(c.middlewares) - 1; i > 0; i-- {
		if c.middlewares[i].Priority > c.middlewares[i-1].Priority {
			c.middlewares[i], c.middlewares[i-1] = c.middlewares[i-1], c.middlewares[i]
		} else {
			break
		}
	}

	c.logger.WithFields(log.Fields{
		"middleware": m.Name,
		"priority":   m.Priority,
		"total":      len(c.middlewares),
	}).Debug("Middleware added to chain")
}

// Build collapses the chain into a single wrapper, applied innermost-last
// so execution follows priority order.
func (c *Chain) Build() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next
		for i := len(c.middlewares) - 1; i >= 0; i-- {
			handler = c.middlewares[i].Handler(handler)
		}
		return handler
	}
}

// SecurityHeaders sets the baseline response headers on everything.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs every request with its status and timing.
func AccessLog(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.statusCode,
				"duration": time.Since(start),
				"size":     wrapped.size,
			}).Info("Request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}
