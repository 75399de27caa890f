package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/response"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// SystemHandler reports service health and runtime state.
type SystemHandler struct {
	cfg       *config.Config
	rdb       *redis.Client
	schema    *service.SchemaService
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(cfg *config.Config, rdb *redis.Client, schema *service.SchemaService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		rdb:       rdb,
		schema:    schema,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type storeStatus struct {
	Driver     string `json:"driver"`
	Persistent bool   `json:"persistent"`
	Warning    string `json:"warning,omitempty"`
}

type healthStatus struct {
	Status string      `json:"status"`
	Uptime string      `json:"uptime"`
	Store  storeStatus `json:"store"`
	Redis  string      `json:"redis"`
}

// Health godoc
// GET /health
// Liveness plus the ledger store mode. The memory driver is reported so a
// non-persistent deployment is never mistaken for a real one.
func (h *SystemHandler) Health(c *gin.Context) {
	out := healthStatus{
		Status: "ok",
		Uptime: formatDuration(time.Since(h.startTime)),
		Store:  h.storeStatus(),
		Redis:  "disabled",
	}

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			out.Status = "degraded"
			out.Redis = "unreachable"
		} else {
			out.Redis = "ok"
		}
	}

	response.Success(c, http.StatusOK, out)
}

type systemStatus struct {
	Uptime          string      `json:"uptime"`
	Store           storeStatus `json:"store"`
	LedgerFields    int         `json:"ledger_fields"`
	SchemaClips     int         `json:"schema_clips"`
	QueueSessionLog int64       `json:"queue_session_log"`
	Goroutines      int         `json:"goroutines"`
	HeapAlloc       uint64      `json:"heap_alloc"`
	NumGC           uint32      `json:"num_gc"`
	GoVersion       string      `json:"go_version"`
}

// Status godoc
// GET /api/v1/admin/system/status
func (h *SystemHandler) Status(c *gin.Context) {
	out := systemStatus{
		Uptime:     formatDuration(time.Since(h.startTime)),
		Store:      h.storeStatus(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out.HeapAlloc = ms.HeapAlloc
	out.NumGC = ms.NumGC

	if reg, err := h.schema.Registry(c.Request.Context()); err == nil {
		out.LedgerFields = reg.Width()
		out.SchemaClips = len(reg.ClipIDs())
	} else {
		h.log.Warn().Err(err).Msg("Schema registry unavailable")
	}

	if h.rdb != nil {
		n, err := h.rdb.LLen(c.Request.Context(), config.WorkerKey.SessionLogQueue).Result()
		if err == nil {
			out.QueueSessionLog = n
		}
	}

	response.Success(c, http.StatusOK, out)
}

func (h *SystemHandler) storeStatus() storeStatus {
	st := storeStatus{Driver: h.cfg.StoreDriver, Persistent: true}
	if h.cfg.StoreDriver == config.StoreDriverMemory {
		st.Persistent = false
		st.Warning = "results are kept in memory and lost on restart"
	}
	return st
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
