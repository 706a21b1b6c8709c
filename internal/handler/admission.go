package handler

import (
	"net/http"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/gin-gonic/gin"
)

type Snapshotter interface {
	Snapshot() admission.Snapshot
}

// Implemented by stores that break counters down by route
type routeCounter interface {
	ByRoute() map[string]stats.Counters
}

type AdmissionHandler struct {
	snapshots Snapshotter
	stats     stats.Store
}

func NewAdmissionHandler(snapshots Snapshotter, store stats.Store) *AdmissionHandler {
	return &AdmissionHandler{snapshots: snapshots, stats: store}
}

// Handles GET /admin/admission
func (h *AdmissionHandler) Snapshot(c *gin.Context) {
	snap := h.snapshots.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"active_callers":   snap.ActiveCallers,
		"buckets":          snap.Buckets,
		"current_tier":     snap.CurrentTier,
		"tiers":            snap.Tiers,
		"window":           snap.Window.String(),
		"activity_timeout": snap.ActivityTimeout.String(),
	})
}

// Handles GET /admin/admission/stats
func (h *AdmissionHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admission stats are not configured"})
		return
	}

	summary, err := h.stats.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"total":   summary.Total,
		"by_tier": summary.ByTier,
	}
	if rc, ok := h.stats.(routeCounter); ok {
		resp["by_route"] = rc.ByRoute()
	}

	c.JSON(http.StatusOK, resp)
}
