package offers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/villadispatch/core/dispatch"
)

// StatusFor maps a dispatch rejection to an HTTP status.
func StatusFor(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindOfferNotFound, dispatch.KindJobNotFound:
		return http.StatusNotFound
	case dispatch.KindOfferNotOpen, dispatch.KindOfferExpired, dispatch.KindJobAlreadyAssigned,
		dispatch.KindOfferAlreadyActive, dispatch.KindJobClosed:
		return http.StatusConflict
	case dispatch.KindStaffNotEligible:
		return http.StatusForbidden
	case dispatch.KindDispatchWindowExceeded, dispatch.KindNoEligibleStaff:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteError renders err as {error, message}.
func WriteError(c *gin.Context, err error) {
	kind, ok := dispatch.KindOf(err)
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
		return
	}
	msg := dispatch.Hint(err)
	if msg == "" {
		msg = err.Error()
	}
	c.JSON(StatusFor(kind), gin.H{"error": string(kind), "message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}
