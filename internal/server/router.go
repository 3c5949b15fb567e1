// Package server exposes the supervisor, the measurement boundary and the
// certificate-backed identity over a gin router. The router is embeddable;
// NewServer wraps it in a mutually authenticated TLS listener.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hwman/internal/measure"
	"github.com/loykin/hwman/internal/metrics"
	"github.com/loykin/hwman/internal/mtls"
	"github.com/loykin/hwman/internal/service"
)

// Router provides embeddable HTTP handlers for the control plane.
// Endpoints under {basePath}:
//
//	GET  /ping
//	GET  /services
//	GET|POST /services/:name/status
//	POST /services/:name/start
//	POST /services/:name/stop
//	GET  /health
//	POST /jobs
//	POST /tests/standard
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup         *service.Supervisor
	runner      measure.Runner
	basePath    string
	metricsPath string
}

// Option adjusts optional router features.
type Option func(*Router)

// WithMetrics mounts the prometheus handler at path.
func WithMetrics(path string) Option {
	return func(r *Router) { r.metricsPath = path }
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath "/api" results in /api/ping, /api/services, ...
func NewRouter(sup *service.Supervisor, runner measure.Runner, basePath string, opts ...Option) *Router {
	r := &Router{sup: sup, runner: runner, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux. Every route runs behind the client-certificate identity
// middleware; the principal reaches handlers through the request context.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(mtls.GinIdentity())
	group := g.Group(r.basePath)
	group.GET("/ping", r.handlePing)
	group.GET("/services", r.handleServices)
	group.GET("/services/:name/status", r.handleServiceStatus)
	group.POST("/services/:name/status", r.handleServiceStatus)
	group.POST("/services/:name/start", r.handleServiceStart)
	group.POST("/services/:name/stop", r.handleServiceStop)
	group.GET("/health", r.handleHealth)
	group.POST("/jobs", r.handleSubmitJob)
	group.POST("/tests/standard", r.handleStandardTest)
	if r.metricsPath != "" {
		group.GET(r.metricsPath, gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTPS server on addr using this router and
// the given mutual-TLS config. Peers without a CA-signed client certificate
// fail the handshake before any handler runs.
func NewServer(addr string, tlsCfg *tls.Config, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type messageResp struct {
	Message string `json:"message"`
}

// serviceResp mirrors the triple every service operation answers with.
type serviceResp struct {
	Message   string `json:"message"`
	Success   bool   `json:"success"`
	IsRunning bool   `json:"is_running"`
}

func (r *Router) handlePing(c *gin.Context) {
	r.observe(c, "ping", nil)
	writeJSON(c, http.StatusOK, messageResp{Message: "Pong"})
}

func (r *Router) handleServices(c *gin.Context) {
	r.observe(c, "services", nil)
	writeJSON(c, http.StatusOK, r.sup.StatusAll(c.Request.Context()))
}

func (r *Router) handleServiceStatus(c *gin.Context) {
	name, ok := r.serviceName(c, "status")
	if !ok {
		return
	}
	st, err := r.sup.Status(c.Request.Context(), name)
	if err != nil {
		r.observe(c, "status", err)
		writeJSON(c, http.StatusNotFound, serviceResp{Message: err.Error()})
		return
	}
	r.observe(c, "status", nil)
	writeJSON(c, http.StatusOK, serviceResp{
		Message:   name + " is " + string(st.State),
		Success:   true,
		IsRunning: st.Running,
	})
}

func (r *Router) handleServiceStart(c *gin.Context) {
	name, ok := r.serviceName(c, "start")
	if !ok {
		return
	}
	err := r.sup.Start(r.auditCtx(c), name)
	r.observe(c, "start", err)
	r.writeServiceResult(c, name, "started", err)
}

func (r *Router) handleServiceStop(c *gin.Context) {
	name, ok := r.serviceName(c, "stop")
	if !ok {
		return
	}
	err := r.sup.Stop(r.auditCtx(c), name)
	r.observe(c, "stop", err)
	r.writeServiceResult(c, name, "stopped", err)
}

// writeServiceResult maps supervisor errors onto the service triple. Misuse
// of the lifecycle stays 200 with success=false; only an unknown name is a
// request-level failure.
func (r *Router) writeServiceResult(c *gin.Context, name, verb string, err error) {
	st, stErr := r.sup.Status(c.Request.Context(), name)
	running := stErr == nil && st.Running
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, serviceResp{Message: name + " " + verb, Success: true, IsRunning: running})
	case errors.Is(err, service.ErrUnknownService):
		writeJSON(c, http.StatusNotFound, serviceResp{Message: err.Error(), IsRunning: running})
	default:
		writeJSON(c, http.StatusOK, serviceResp{Message: err.Error(), IsRunning: running})
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	r.observe(c, "health", nil)
	writeJSON(c, http.StatusOK, service.CheckHealth(c.Request.Context(), r.sup))
}

type jobRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// handleSubmitJob accepts a job descriptor and runs it as a standard test.
// Job types share the test-type namespace.
func (r *Router) handleSubmitJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		r.observe(c, "submit_job", err)
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	r.runTest(c, "submit_job", req.Type, req.ID)
}

type standardTestRequest struct {
	TestType string `json:"test_type"`
	PID      string `json:"pid"`
}

func (r *Router) handleStandardTest(c *gin.Context) {
	var req standardTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		r.observe(c, "standard_test", err)
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	r.runTest(c, "standard_test", req.TestType, req.PID)
}

func (r *Router) runTest(c *gin.Context, op, testType, pid string) {
	tt, err := measure.ParseTestType(testType)
	if err != nil {
		r.observe(c, op, err)
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	res, err := r.runner.StandardTest(c.Request.Context(), tt, pid)
	r.observe(c, op, err)
	if err != nil {
		slog.Error("test failed", "op", op, "test_type", testType, "pid", pid, "error", err)
		res.Status = false
		writeJSON(c, http.StatusOK, res)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// serviceName validates the :name path parameter before it reaches the
// supervisor or any log file name.
func (r *Router) serviceName(c *gin.Context, op string) (string, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		r.observe(c, op, errors.New("invalid name"))
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return "", false
	}
	return name, true
}

// auditCtx carries the caller identity down to the supervisor's recorder.
func (r *Router) auditCtx(c *gin.Context) context.Context {
	return mtls.WithPrincipal(c.Request.Context(), mtls.PrincipalFrom(c))
}

func (r *Router) observe(c *gin.Context, op string, err error) {
	principal := mtls.PrincipalFrom(c)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IncRPCRequest(op, principal, result)
	slog.Debug("rpc", "op", op, "principal", principal, "result", result)
}
