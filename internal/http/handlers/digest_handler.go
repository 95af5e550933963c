package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/deadline-master/internal/http/middleware"
)

// RunDigest triggers one daily digest run immediately and returns its report.
//
//	POST {base}/digest/run
//	200 services.DigestReport | 503 when no delivery transport is configured
func (h *Handlers) RunDigest(c *gin.Context) {
	if h.digest == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeDigestUnavailable, "digest delivery is not configured")
		return
	}
	report, err := h.digest.Run(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDigestFailed, "digest run failed")
		return
	}
	middleware.LoggerFrom(c).Info().
		Int("recipients", report.Recipients).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Msg("manual digest run")
	ok(c, http.StatusOK, report)
}
