package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-capabilities/internal/response"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

const (
	CapabilitiesPath = "/v2/capabilities"
	SamplePath       = "/v2/capabilities/sample"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handlers serves the capability document over HTTP.
type Handlers struct {
	aggregator response.Aggregator
	logger     logr.Logger
}

func NewHandlers(agg response.Aggregator, logger logr.Logger) *Handlers {
	return &Handlers{aggregator: agg, logger: logger}
}

// Router returns the route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(SamplePath, h.GetSample).Methods(http.MethodGet)
	r.HandleFunc(CapabilitiesPath, h.GetCapabilities).Methods(http.MethodGet)
	return r
}

// GetCapabilities handles GET /v2/capabilities.
func (h *Handlers) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	ctx := log.IntoContext(r.Context(), h.logger)
	caps, err := response.Collect(ctx, h.aggregator)
	if err != nil {
		status := StatusForError(err)
		h.logger.Error(err, "capability request failed", "status", status)
		h.writeErrorResponse(w, status, "Failed to retrieve capabilities", err.Error())
		return
	}
	h.writeJSONResponse(w, http.StatusOK, caps)
}

// GetSample handles GET /v2/capabilities/sample.
func (h *Handlers) GetSample(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, response.Sample())
}

// StatusForError maps a capability failure to an HTTP status. Failures are
// always a server error so they can never be mistaken for an empty
// capability set.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, source.ErrDriverUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(err, "failed to encode response")
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, message, details string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{Error: message, Details: details})
}

// HTTPServer runs an http.Server under the controller-runtime manager.
type HTTPServer struct {
	Addr    string
	Handler http.Handler
	// ShutdownTimeout bounds graceful shutdown once the manager stops.
	ShutdownTimeout time.Duration
}

// Start implements manager.Runnable.
func (s *HTTPServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the server on lis until ctx is done, then drains in-flight
// requests. Request contexts keep ctx's values but not its cancellation.
func (s *HTTPServer) Serve(ctx context.Context, lis net.Listener) error {
	logger := log.FromContext(ctx).WithValues("server", "http", "addr", lis.Addr().String())

	baseCtx := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving capabilities")
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// NeedLeaderElection reports that every replica serves requests.
func (s *HTTPServer) NeedLeaderElection() bool {
	return false
}
