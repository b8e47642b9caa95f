package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chrisbze/molaison-ai-backend/logging"
)

const (
	analysisTargetKey = "analysis_target"
	analysisFailedKey = "analysis_failed"
)

// MarkAnalysis tells the stats middleware that this request analyzed target.
// failed marks a degraded or failed analysis even when the status is 200.
func MarkAnalysis(c *gin.Context, target string, failed bool) {
	c.Set(analysisTargetKey, target)
	c.Set(analysisFailedKey, failed)
}

// Stats tracks visitors for every request and analysis timings for requests
// marked with MarkAnalysis.
func Stats(stats *logging.Statistics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		stats.TrackVisitor(c.ClientIP())

		c.Next()

		target := c.GetString(analysisTargetKey)
		if target == "" {
			return
		}
		failed := c.GetBool(analysisFailedKey) || c.Writer.Status() >= http.StatusBadRequest
		stats.TrackAnalysis(target, float64(time.Since(start).Milliseconds()), failed)
	}
}
