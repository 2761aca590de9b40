// Package offers exposes the offer lifecycle over HTTP.
package offers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/villadispatch/api/middleware"
	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
)

// Trigger asks the sweeper for an immediate pass.
type Trigger interface {
	Trigger()
}

// Handler serves offer and job routes.
type Handler struct {
	mgr   *dispatch.Manager
	sweep Trigger
}

// NewHandler returns a Handler. sweep may be nil, which disables POST /sweep.
func NewHandler(mgr *dispatch.Manager, sweep Trigger) *Handler {
	return &Handler{mgr: mgr, sweep: sweep}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/offers", h.listOffers)
	r.POST("/offers/:id/accept", h.accept)

	admin := r.Group("", middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/offers/:id", h.getOffer)
	admin.POST("/offers/:id/cancel", h.cancel)
	admin.POST("/jobs", h.createJob)
	admin.GET("/jobs", h.listJobs)
	admin.GET("/jobs/:id", h.getJob)
	admin.POST("/jobs/:id/dispatch", h.dispatch)
	admin.POST("/jobs/:id/assign", h.assign)
	admin.POST("/sweep", h.triggerSweep)
}

func (h *Handler) listOffers(c *gin.Context) {
	offers, err := h.mgr.OffersForStaff(c.Request.Context(), middleware.StaffID(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	c.JSON(http.StatusOK, offers)
}

func (h *Handler) accept(c *gin.Context) {
	a, err := h.mgr.Accept(c.Request.Context(), c.Param("id"), middleware.StaffID(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) getOffer(c *gin.Context) {
	o, err := h.mgr.Offer(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	o, err := h.mgr.CancelOffer(c.Request.Context(), c.Param("id"), req.Reason, middleware.StaffID(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type createJobRequest struct {
	ID                string    `json:"id"`
	PropertyID        string    `json:"property_id" binding:"required"`
	RequiredRole      string    `json:"required_role" binding:"required"`
	ScheduledStart    time.Time `json:"scheduled_start" binding:"required"`
	EstimatedDuration int       `json:"estimated_duration_minutes"`
}

func (h *Handler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.ID != "" {
		if _, err := h.mgr.Job(ctx, req.ID); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "job_exists", "message": "a job with this id already exists"})
			return
		}
	}
	j, err := h.mgr.CreateJob(ctx, model.Job{
		ID:                req.ID,
		PropertyID:        req.PropertyID,
		RequiredRole:      req.RequiredRole,
		ScheduledStart:    req.ScheduledStart.UTC(),
		EstimatedDuration: time.Duration(req.EstimatedDuration) * time.Minute,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (h *Handler) listJobs(c *gin.Context) {
	f := dispatch.JobFilter{Status: model.JobStatus(c.Query("status"))}
	if f.Status != "" && !f.Status.Valid() {
		badRequest(c, "unknown status")
		return
	}
	if v := c.Query("manual"); v != "" {
		manual, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "manual must be a boolean")
			return
		}
		f.ManualOnly = manual
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	jobs, err := h.mgr.Jobs(c.Request.Context(), f)
	if err != nil {
		WriteError(c, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	j, err := h.mgr.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) dispatch(c *gin.Context) {
	var meta model.OfferMeta
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&meta); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	o, err := h.mgr.DispatchJob(c.Request.Context(), c.Param("id"), middleware.StaffID(c), meta)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

type assignRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

func (h *Handler) assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	a, err := h.mgr.AssignManually(c.Request.Context(), c.Param("id"), req.StaffID, middleware.StaffID(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) triggerSweep(c *gin.Context) {
	if h.sweep == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweeper_disabled", "message": "the sweeper is not running"})
		return
	}
	h.sweep.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}
