package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"
	"PerpVault/internal/query"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server serves the read API as HTTP/JSON and the standard gRPC health
// service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	handler    http.Handler

	query   *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

type Deps struct {
	Query         *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.Query == nil {
		return nil, errors.New("server: query service is required")
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		query:      deps.Query,
		metrics:    deps.Metrics,
		log:        deps.Logger,
	}

	mux := runtime.NewServeMux()
	routes := []struct {
		pattern string
		name    string
		fn      func(r *http.Request, params map[string]string) (any, error)
	}{
		{"/v1/assets", "assets", s.listAssets},
		{"/v1/assets/{asset}", "asset", s.getAsset},
		{"/v1/positions", "positions", s.listPositions},
		{"/v1/positions/{owner}/{collateral}/{index}/{side}", "position", s.getPosition},
		{"/v1/aum", "aum", s.getAUM},
		{"/v1/shorts/{asset}/delta", "short_delta", s.getShortDelta},
		{"/v1/events", "events", s.listEvents},
		{"/v1/history", "history", s.listHistory},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(http.MethodGet, rt.pattern, s.wrap(rt.name, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s: %w", rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc := deps.HealthChecker; hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if deps.Gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", mux)
	s.handler = httpMux
	return s, nil
}

// Handler is the HTTP handler served by StartHTTP.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetServing flips the gRPC health status reported for the whole server.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) wrap(name string, fn func(r *http.Request, params map[string]string) (any, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(name).Inc()
			defer func() {
				s.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}()
		}

		resp, err := fn(r, params)
		if err != nil {
			code := errorCode(err)
			if s.metrics != nil {
				s.metrics.QueryErrors.WithLabelValues(name, code.String()).Inc()
			}
			if code == codes.Internal {
				s.log.Error().Err(err).Str("endpoint", name).Msg("query failed")
			}
			writeJSON(w, runtime.HTTPStatusFromCode(code), map[string]string{
				"code":    code.String(),
				"message": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// errBadRequest marks malformed path or query parameters.
var errBadRequest = errors.New("invalid argument")

func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, errBadRequest):
		return codes.InvalidArgument
	case errors.Is(err, query.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, query.ErrUnavailable),
		errors.Is(err, oracle.ErrNoPriceFeed),
		errors.Is(err, oracle.ErrNoAnswer):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) listAssets(r *http.Request, _ map[string]string) (any, error) {
	return s.query.Assets(r.Context())
}

func (s *Server) getAsset(r *http.Request, p map[string]string) (any, error) {
	return s.query.Asset(r.Context(), registry.Asset(p["asset"]))
}

// listPositions takes the owner as ?owner= since identities contain a
// colon, which the gateway would read as a verb in a final path segment.
func (s *Server) listPositions(r *http.Request, _ map[string]string) (any, error) {
	owner, err := auth.ParseIdentity(r.URL.Query().Get("owner"))
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", errBadRequest, err)
	}
	return s.query.Positions(r.Context(), owner)
}

func (s *Server) getPosition(r *http.Request, p map[string]string) (any, error) {
	owner, err := auth.ParseIdentity(p["owner"])
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", errBadRequest, err)
	}
	var isLong bool
	switch p["side"] {
	case "long":
		isLong = true
	case "short":
	default:
		return nil, fmt.Errorf("%w: side %q, want long or short", errBadRequest, p["side"])
	}
	return s.query.Position(r.Context(), state.PositionKey{
		Owner:      owner,
		Collateral: registry.Asset(p["collateral"]),
		Index:      registry.Asset(p["index"]),
		IsLong:     isLong,
	})
}

func (s *Server) getAUM(r *http.Request, _ map[string]string) (any, error) {
	return s.query.AUM(r.Context())
}

func (s *Server) getShortDelta(r *http.Request, p map[string]string) (any, error) {
	return s.query.GlobalShortDelta(r.Context(), registry.Asset(p["asset"]))
}

func (s *Server) listEvents(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	from, err := intParam(q.Get("from"), 1)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		return nil, err
	}
	return s.query.Events(r.Context(), from, int(limit))
}

func (s *Server) listHistory(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	owner, err := auth.ParseIdentity(q.Get("owner"))
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", errBadRequest, err)
	}
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		return nil, err
	}
	return s.query.PositionHistory(r.Context(), owner, int(limit))
}

func intParam(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", errBadRequest, v)
	}
	return n, nil
}
