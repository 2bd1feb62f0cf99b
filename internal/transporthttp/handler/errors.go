// Package handler holds the gin handlers for the scheduler and dispatcher
// RPC surfaces, grounded on the teacher's internal/transport/http/handler
// package.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/errs"
)

// WriteError maps a domain error to the appropriate HTTP status and a
// uniform JSON error body.
func WriteError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": err.Error(),
		},
	})
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidationFailed, errs.KindUnsafeScheme:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindPreconditionFail, errs.KindInvalidStatus:
		return http.StatusConflict
	case errs.KindBackpressure:
		return http.StatusServiceUnavailable
	case errs.KindDeadlineExceeded, errs.KindAttemptTimeout:
		return http.StatusGatewayTimeout
	case errs.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindBlockedPrivateIP:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
