// Package audit serves the offer audit trail to administrators.
package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/villadispatch/api/middleware"
	coreaudit "github.com/kilianp07/villadispatch/core/audit"
)

const defaultLimit = 500

// Register mounts GET /audit on r for admins.
func Register(r *gin.RouterGroup, store coreaudit.Store) {
	r.GET("/audit", middleware.RequireRole(middleware.RoleAdmin), func(c *gin.Context) {
		q, err := parseQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
			return
		}
		recs, err := store.Query(c.Request.Context(), q)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "audit query failed"})
			return
		}
		if recs == nil {
			recs = []coreaudit.Record{}
		}
		c.JSON(http.StatusOK, recs)
	})
}

func parseQuery(c *gin.Context) (coreaudit.Query, error) {
	q := coreaudit.Query{
		JobID:   c.Query("job_id"),
		OfferID: c.Query("offer_id"),
		StaffID: c.Query("staff_id"),
		Type:    coreaudit.RecordType(c.Query("type")),
		Limit:   defaultLimit,
	}
	var err error
	if v := c.Query("start"); v != "" {
		if q.Start, err = time.Parse(time.RFC3339, v); err != nil {
			return q, err
		}
	}
	if v := c.Query("end"); v != "" {
		if q.End, err = time.Parse(time.RFC3339, v); err != nil {
			return q, err
		}
	}
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, err
		}
	}
	return q, nil
}
