package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// checkBudget bounds one rate-limit evaluation end to end. A redis stall
// surfaces as 504 rather than an unbounded caller hang.
const checkBudget = 2 * time.Second

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "ratelimit",
		Name:      "checks_total",
		Help:      "Rate-limit checks served, by algorithm and outcome.",
	}, []string{"algorithm", "outcome"})

	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voicepipe",
		Subsystem: "ratelimit",
		Name:      "check_duration_seconds",
		Help:      "Latency of rate-limit checks including redis round trips.",
		Buckets:   prometheus.DefBuckets,
	})
)

// CheckRequest is the body of POST /ratelimit. ID is the only required
// field; the rest default per the service contract.
type CheckRequest struct {
	ID       string `json:"id"`
	Limit    *int64 `json:"limit,omitempty"`
	WindowMs *int64 `json:"windowMs,omitempty"`
	Algo     string `json:"algo,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the rate limiter HTTP surface.
type Server struct {
	limiter *Limiter
	rdb     *redis.Client
	logger  *zap.SugaredLogger
}

// NewServer creates the HTTP surface over a limiter.
func NewServer(limiter *Limiter, rdb *redis.Client, logger *zap.SugaredLogger) *Server {
	return &Server{limiter: limiter, rdb: rdb, logger: logger.Named("ratelimit")}
}

// Handler returns the route mux: POST /ratelimit, GET /healthz, GET /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ratelimit", s.handleCheck)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Rate limiter listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	limit, windowMs, algo, err := resolveParams(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkBudget)
	defer cancel()

	start := time.Now()
	decision, err := s.limiter.Check(ctx, req.ID, limit, windowMs, algo)
	checkDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Errorw("Rate-limit check exceeded call budget",
				"id", req.ID, "error", err)
			checksTotal.WithLabelValues(string(algo), "timeout").Inc()
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "rate limit check timed out"})
			return
		}
		s.logger.Errorw("Rate-limit check failed",
			"id", req.ID, "error", err)
		checksTotal.WithLabelValues(string(algo), "error").Inc()
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	// A deny is a successful check; the verdict lives in the body.
	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	checksTotal.WithLabelValues(string(algo), outcome).Inc()
	writeJSON(w, http.StatusOK, decision)
}

// resolveParams applies defaults for absent fields and rejects fields that
// are present but invalid. Absence and invalidity are different things: the
// first is the contract, the second is a caller bug worth a 400.
func resolveParams(req *CheckRequest) (limit, windowMs int64, algo Algorithm, err error) {
	if req.ID == "" {
		return 0, 0, "", fmt.Errorf("id is required")
	}

	limit = DefaultLimit
	if req.Limit != nil {
		if *req.Limit <= 0 {
			return 0, 0, "", fmt.Errorf("limit must be positive")
		}
		limit = *req.Limit
	}

	windowMs = DefaultWindowMs
	if req.WindowMs != nil {
		if *req.WindowMs <= 0 {
			return 0, 0, "", fmt.Errorf("windowMs must be positive")
		}
		windowMs = *req.WindowMs
	}

	algo = AlgorithmSliding
	if req.Algo != "" {
		switch Algorithm(req.Algo) {
		case AlgorithmSliding, AlgorithmFixed:
			algo = Algorithm(req.Algo)
		default:
			return 0, 0, "", fmt.Errorf("unknown algorithm %q", req.Algo)
		}
	}
	return limit, windowMs, algo, nil
}

// handleHealth always answers 200; the body carries the store ping result.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkBudget)
	defer cancel()

	ok := true
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.logger.Warnw("Health check failed, redis unreachable", "error", err)
		ok = false
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
