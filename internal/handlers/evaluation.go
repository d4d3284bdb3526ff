package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/auth"
	"github.com/evalboard/evalboard/internal/logging"
	"github.com/evalboard/evalboard/internal/models"
)

// Admitter decides the fate of one ingestion call. decode is invoked only
// once the caller's credential has been resolved.
type Admitter interface {
	AdmitRequest(ctx context.Context, token string, decode admission.DecodeFunc) (admission.Result, error)
}

// RegisterEvaluationRoutes registers the ingestion-path endpoint.
//
// POST /evaluations
// - Credential via Authorization: Bearer (or X-API-Key); resolved by the controller
//   before the body is decoded
// - 201 accepted, 200 sampled out, 401/400/429/500 rejected
// - Not idempotent: the same payload twice yields two records
func RegisterEvaluationRoutes(r gin.IRoutes, ac Admitter) {
	r.POST("/evaluations", func(c *gin.Context) {
		decode := func(p *models.EvalPayload) error { return c.ShouldBindJSON(p) }

		res, err := ac.AdmitRequest(c.Request.Context(), auth.BearerToken(c.Request), decode)
		if err != nil {
			status, body := rejection(err)
			if status == http.StatusInternalServerError {
				logging.FromContext(c.Request.Context()).Error(err, "Ingestion failed")
			}
			c.JSON(status, body)
			return
		}

		switch res.Decision {
		case admission.Skipped:
			c.JSON(http.StatusOK, models.EvalSkippedResponse{Message: "skipped"})
		default:
			c.JSON(http.StatusCreated, models.EvalIngestResponse{
				Success:    true,
				Evaluation: *res.Record,
			})
		}
	})
}

// rejection maps an admission error to its HTTP status and body.
func rejection(err error) (int, gin.H) {
	switch admission.KindOf(err) {
	case admission.Unauthorized:
		return http.StatusUnauthorized, gin.H{"error": "unauthorized"}
	case admission.NoConfig:
		return http.StatusBadRequest, gin.H{"error": "no config"}
	case admission.InvalidPayload:
		return http.StatusBadRequest, gin.H{"error": message(err)}
	case admission.QuotaExceeded:
		return http.StatusTooManyRequests, gin.H{"error": "quota exceeded"}
	default:
		return http.StatusInternalServerError, gin.H{"error": message(err)}
	}
}

// message returns the client-facing part of an admission error.
func message(err error) string {
	var e *admission.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
