package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"castbot/internal/broadcast"
	"castbot/internal/runtime/supervisor"
	logx "castbot/pkg/logx"
)

type healthResponse struct {
	Status      string                         `json:"status"`
	Uptime      string                         `json:"uptime"`
	Sessions    []broadcast.SessionInfo        `json:"sessions"`
	Supervisors map[string]supervisor.Snapshot `json:"supervisors"`
}

// healthSource is what the health endpoint reports on.
type healthSource struct {
	started  time.Time
	now      func() time.Time
	sessions func() []broadcast.SessionInfo
	sups     *supervisor.Registry
}

func (h healthSource) snapshot() healthResponse {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	resp := healthResponse{
		Status:      "ok",
		Uptime:      now().Sub(h.started).Truncate(time.Second).String(),
		Sessions:    []broadcast.SessionInfo{},
		Supervisors: map[string]supervisor.Snapshot{},
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions()
	}
	for name, snap := range h.sups.Snapshots() {
		if snap.FirstError != "" {
			resp.Status = "degraded"
		}
		resp.Supervisors[name] = snap
	}
	return resp
}

func newHealthRouter(src healthSource, log logx.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "bot active")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.snapshot())
	})
	return r
}

func accessLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, log logx.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Info("http listening", logx.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", logx.Err(err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
