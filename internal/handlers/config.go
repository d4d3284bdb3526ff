package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/auth"
)

// RegisterConfigRoutes registers GET /config, returning the caller's
// evaluation policy. The policy is read-only here.
func RegisterConfigRoutes(r gin.IRoutes, st admission.ConfigStore) {
	r.GET("/config", func(c *gin.Context) {
		userID := auth.UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		cfg, err := st.GetEvalConfig(c.Request.Context(), userID)
		if errors.Is(err, admission.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no config"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, cfg)
	})
}
