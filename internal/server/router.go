package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/restraint/internal/blackout"
	"github.com/loykin/restraint/internal/daemon"
	"github.com/loykin/restraint/internal/metrics"
	"github.com/loykin/restraint/internal/schedule"
)

// Router provides the local control API the CLI talks to.
// Endpoints (all under basePath):
//   GET    /status
//   POST   /blackout/start       body: {"duration_minutes":N,"locked":bool,"break":bool}
//   POST   /blackout/stop
//   POST   /allowlist/on
//   POST   /allowlist/off
//   GET    /schedules
//   POST   /schedules            body: Schedule JSON
//   PUT    /schedules/:name      body: Schedule JSON
//   DELETE /schedules/:name
//   POST   /schedules/:name/enabled  body: {"enabled":bool}
//   GET    /blocks
//   POST   /blocks               body: {"domains":[...], "preset":"name"}
//   DELETE /blocks               body: {"domains":[...]}
//   GET    /metrics
//
// The API binds to localhost only; there is no auth because anyone on
// the machine able to reach it can also just edit the hosts file.

type Router struct {
	d         *daemon.Daemon
	basePath  string
	accessLog io.Writer
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(d *daemon.Daemon, basePath string) *Router {
	return &Router{d: d, basePath: sanitizeBase(basePath)}
}

// WithAccessLog makes the router write one line per request to w.
func (r *Router) WithAccessLog(w io.Writer) *Router {
	r.accessLog = w
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted
// in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.accessLog != nil {
		g.Use(gin.LoggerWithWriter(r.accessLog))
	}
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/blackout/start", r.handleBlackoutStart)
	group.POST("/blackout/stop", r.handleBlackoutStop)
	group.POST("/allowlist/on", r.handleAllowlistOn)
	group.POST("/allowlist/off", r.handleAllowlistOff)
	group.GET("/schedules", r.handleScheduleList)
	group.POST("/schedules", r.handleScheduleAdd)
	group.PUT("/schedules/:name", r.handleScheduleUpdate)
	group.DELETE("/schedules/:name", r.handleScheduleRemove)
	group.POST("/schedules/:name/enabled", r.handleScheduleEnable)
	group.GET("/blocks", r.handleBlockList)
	group.POST("/blocks", r.handleBlockAdd)
	group.DELETE("/blocks", r.handleBlockRemove)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil accessLog receives one line per request.
func NewServer(addr, basePath string, d *daemon.Daemon, accessLog io.Writer) (*http.Server, error) {
	r := NewRouter(d, basePath)
	if accessLog != nil {
		r.WithAccessLog(accessLog)
	}
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

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type countResp struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.d.Status())
}

type blackoutStartReq struct {
	DurationMinutes int  `json:"duration_minutes"`
	Locked          bool `json:"locked"`
	Break           bool `json:"break"`
}

func (r *Router) handleBlackoutStart(c *gin.Context) {
	var req blackoutStartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.DurationMinutes <= 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "duration_minutes must be > 0"})
		return
	}
	d := time.Duration(req.DurationMinutes) * time.Minute
	var err error
	if req.Break {
		err = r.d.StartBreak(d)
	} else {
		err = r.d.StartBlackout(d, req.Locked)
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, blackout.ErrSessionLocked) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleBlackoutStop(c *gin.Context) {
	if err := r.d.StopBlackout(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, blackout.ErrSessionLocked) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAllowlistOn(c *gin.Context) {
	if err := r.d.EnableAllowlist(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAllowlistOff(c *gin.Context) {
	if err := r.d.DisableAllowlist(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleScheduleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.d.Scheduler().List())
}

func (r *Router) handleScheduleAdd(c *gin.Context) {
	var s schedule.Schedule
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.d.Scheduler().Add(s); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleScheduleUpdate(c *gin.Context) {
	var s schedule.Schedule
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	s.Name = c.Param("name")
	if err := r.d.Scheduler().Update(s); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleScheduleRemove(c *gin.Context) {
	if err := r.d.Scheduler().Remove(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

type enabledReq struct {
	Enabled bool `json:"enabled"`
}

func (r *Router) handleScheduleEnable(c *gin.Context) {
	var req enabledReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.d.Scheduler().SetEnabled(c.Param("name"), req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

type blocksResp struct {
	Domains []string `json:"domains"`
	Presets []string `json:"presets"`
}

func (r *Router) handleBlockList(c *gin.Context) {
	c.JSON(http.StatusOK, blocksResp{
		Domains: r.d.BlockedDomains(),
		Presets: r.d.BlockPresets(),
	})
}

type blockReq struct {
	Domains []string `json:"domains"`
	Preset  string   `json:"preset"`
}

func (r *Router) handleBlockAdd(c *gin.Context) {
	var req blockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Preset == "" && len(req.Domains) == 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "domains or preset required"})
		return
	}
	total := 0
	if req.Preset != "" {
		n, err := r.d.AddBlockedPreset(req.Preset)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		total += n
	}
	if len(req.Domains) > 0 {
		n, err := r.d.AddBlockedDomains(req.Domains...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		total += n
	}
	c.JSON(http.StatusOK, countResp{OK: true, Count: total})
}

func (r *Router) handleBlockRemove(c *gin.Context) {
	var req blockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(req.Domains) == 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "domains required"})
		return
	}
	n, err := r.d.RemoveBlockedDomains(req.Domains...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, countResp{OK: true, Count: n})
}
