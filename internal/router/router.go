// Package router spreads OpenAI-compatible requests across model-server
// replicas in round-robin order.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HealthMessage is returned by GET /.
const HealthMessage = "WebSTAR load balancer is running."

// Options configures a Router.
type Options struct {
	Backends  []string
	RateLimit float64 // Requests per second across all backends; zero disables
	Burst     int
	Debug     bool
}

type metrics struct {
	requests    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webstar",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Proxied requests by backend and response status",
		}, []string{"backend", "code"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webstar",
			Subsystem: "router",
			Name:      "backend_errors_total",
			Help:      "Requests that could not reach their backend",
		}, []string{"backend"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "webstar",
			Subsystem: "router",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

type backend struct {
	url   *url.URL
	proxy *httputil.ReverseProxy
}

// Router is an http.Handler forwarding /v1/* to the next backend.
type Router struct {
	backends []backend
	counter  atomic.Uint64
	limiter  *rate.Limiter
	metrics  *metrics
	registry *prometheus.Registry
	engine   *gin.Engine
	logger   *zap.Logger
}

// New validates the backends and builds the routes.
func New(opts Options, logger *zap.Logger) (*Router, error) {
	if len(opts.Backends) == 0 {
		return nil, errors.New("router needs at least one backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		registry: prometheus.NewRegistry(),
		logger:   logger.With(zap.String("component", "router")),
	}
	r.metrics = newMetrics(r.registry)

	for _, raw := range opts.Backends {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid backend URL %q", raw)
		}
		r.backends = append(r.backends, backend{url: u, proxy: r.newProxy(u)})
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, HealthMessage)
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	engine.Any("/v1/*endpoint", r.forward)
	r.engine = engine

	return r, nil
}

func (r *Router) newProxy(u *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		r.metrics.failures.WithLabelValues(u.Host).Inc()
		r.logger.Warn("Backend unreachable", zap.String("backend", u.String()), zap.String("path", req.URL.Path), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"error":%q,"details":%q}`, "Failed to connect to backend "+u.String(), err.Error())
	}
	return proxy
}

// Next returns the index of the backend for the next request.
func (r *Router) Next() int {
	n := r.counter.Add(1) - 1
	return int(n % uint64(len(r.backends)))
}

func (r *Router) forward(c *gin.Context) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.metrics.rateLimited.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	b := r.backends[r.Next()]
	b.proxy.ServeHTTP(c.Writer, c.Request)
	r.metrics.requests.WithLabelValues(b.url.Host, strconv.Itoa(c.Writer.Status())).Inc()
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (r *Router) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	r.logger.Info("Router listening", zap.String("addr", ln.Addr().String()), zap.Int("backends", len(r.backends)))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("router shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (r *Router) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}
