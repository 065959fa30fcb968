// Package server exposes the orchestrator over HTTP. The router is an
// embeddable http.Handler; NewServer wraps it in a standalone server.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/fleetd/internal/manager"
	"github.com/loykin/fleetd/internal/metrics"
)

// Router provides embeddable HTTP handlers for the fleet API.
// Endpoints:
//
//	GET  {basePath}/status          fleet snapshot, or one service with ?name=
//	POST {basePath}/start           dependency-ordered startup of the fleet
//	POST {basePath}/stop            reverse-ordered shutdown; ?grace=5s optional
//	POST {basePath}/restart         query: name=... (required)
//	GET  {basePath}/logs            query: name=...&n=100
//	GET  {basePath}/history         query: name=...&limit=100
//	GET  {basePath}/metrics         Prometheus exposition
type Router struct {
	mgr      *mng.Manager
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start, ...
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.GET("/logs", r.handleLogs)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *mng.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	snap := r.mgr.Snapshot()
	if name == "" {
		writeJSON(c, http.StatusOK, snap)
		return
	}
	for _, st := range snap {
		if st.Name == name {
			writeJSON(c, http.StatusOK, st)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.mgr.StartAll(); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	grace := time.Duration(0)
	if s := c.Query("grace"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid grace: " + err.Error()})
			return
		}
		grace = d
	}
	if err := r.mgr.StopAll(c.Request.Context(), grace); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	if !r.mgr.Known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	if err := r.mgr.RestartOne(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !r.mgr.Known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	n := 100
	if s := c.Query("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid n"})
			return
		}
		n = v
	}
	lines := r.mgr.Logs(name, n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, gin.H{"name": name, "lines": lines})
}

func (r *Router) handleHistory(c *gin.Context) {
	name := c.Query("name")
	limit := 100
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = v
	}
	events, err := r.mgr.History(c.Request.Context(), name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}
