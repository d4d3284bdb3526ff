package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/auth"
	"github.com/evalboard/evalboard/internal/models"
)

// StatsStore is the read side needed by the stats and config endpoints.
type StatsStore interface {
	admission.ConfigStore
	admission.RecordCounter
}

// QuotaWindow yields the current quota window [startOfToday, now).
type QuotaWindow interface {
	Window() (time.Time, time.Time)
}

// RegisterStatsRoutes registers the serving-path endpoint.
//
// GET /evaluations/stats?from=...&to=...
// - Requires an authenticated user
// - Returns count for the window [from,to); both bounds default to today
// - Includes quota usage when the window is today
func RegisterStatsRoutes(r gin.IRoutes, st StatsStore, quota QuotaWindow) {
	r.GET("/evaluations/stats", func(c *gin.Context) {
		userID := auth.UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fromStr := c.Query("from")
		toStr := c.Query("to")
		today := fromStr == "" && toStr == ""

		from, to := quota.Window()
		var err error
		if fromStr != "" {
			if from, err = parseRFC3339(fromStr); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
				return
			}
		}
		if toStr != "" {
			if to, err = parseRFC3339(toStr); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
				return
			}
		}

		// Validate window to avoid confusing results.
		if !from.Before(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
			return
		}

		ctx := c.Request.Context()
		count, err := st.CountEvaluations(ctx, userID, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		resp := models.EvalStatsResponse{
			Count: count,
			From:  from.UTC().Format(time.RFC3339),
			To:    to.UTC().Format(time.RFC3339),
		}
		if today {
			cfg, err := st.GetEvalConfig(ctx, userID)
			switch {
			case err == nil:
				remaining := int64(cfg.MaxEvalPerDay) - count
				if remaining < 0 {
					remaining = 0
				}
				resp.Quota = &models.QuotaUsage{Used: count, Limit: cfg.MaxEvalPerDay, Remaining: remaining}
			case !errors.Is(err, admission.ErrNotFound):
				c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
				return
			}
		}

		c.JSON(http.StatusOK, resp)
	})
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
