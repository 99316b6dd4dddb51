package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/record-ingestion-service/internal/auth"
	"github.com/PratikDhanave/record-ingestion-service/internal/ingest"
	"github.com/PratikDhanave/record-ingestion-service/internal/models"
	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

// Ingester processes one batch.
type Ingester interface {
	Ingest(ctx context.Context, b ingest.Batch) (*models.BatchResponse, error)
}

// RegisterIngestRoutes registers the ingestion-path endpoints.
//
// POST /transactions, POST /applications
// - Requires a bearer token (caller identity)
// - Durable: a record is reported accepted only after its artifact is stored
// - Idempotent: duplicates are detected by content fingerprint
// - Partial: each record gets its own outcome; only malformed requests fail whole
func RegisterIngestRoutes(r gin.IRoutes, ing Ingester, maxBodyBytes int64) {
	r.POST("/transactions", batchHandler(ing, models.KindTransaction, maxBodyBytes))
	r.POST("/applications", batchHandler(ing, models.KindApplication, maxBodyBytes))
}

func batchHandler(ing Ingester, kind models.Kind, maxBodyBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := auth.Caller(c)
		if caller == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if c.ContentType() != "application/json" {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
			return
		}
		if maxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}

		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		records, other := req.Transactions, req.Applications
		if kind == models.KindApplication {
			records, other = req.Applications, req.Transactions
		}
		if len(other) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch mixes record kinds; " + kind.BatchField() + " only"})
			return
		}

		resp, err := ing.Ingest(c.Request.Context(), ingest.Batch{
			Kind:    kind,
			Source:  req.Source,
			BatchID: req.BatchID,
			Caller:  caller,
			Records: records,
		})
		if err != nil {
			var mre *ingest.MalformedRequestError
			if !errors.As(err, &mre) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
				return
			}
			status := http.StatusBadRequest
			if errors.Is(err, validate.ErrBatchTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": mre.Error()})
			return
		}

		// 201 when anything new was stored, 200 when the batch was all
		// duplicates or failures (idempotent success).
		status := http.StatusOK
		if resp.Accepted > 0 {
			status = http.StatusCreated
		}
		c.JSON(status, resp)
	}
}
