package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/record-ingestion-service/internal/fingerprint"
	"github.com/PratikDhanave/record-ingestion-service/internal/ledger"
	"github.com/PratikDhanave/record-ingestion-service/internal/models"
	"github.com/PratikDhanave/record-ingestion-service/internal/store"
	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

// Lister enumerates stored artifacts.
type Lister interface {
	List(ctx context.Context, prefix string) ([]store.Object, error)
}

// EntryGetter reads ledger entries.
type EntryGetter interface {
	Get(ctx context.Context, fingerprint string) (ledger.Entry, error)
}

// RegisterArtifactRoutes registers the read side used by reconciliation.
//
// GET /artifacts?source=...&kind=...&date=YYYY-MM-DD
// - Lists one day's artifacts for a source and kind
//
// GET /artifacts/:fingerprint
// - Returns the ledger entry for a fingerprint
func RegisterArtifactRoutes(r gin.IRoutes, objects Lister, entries EntryGetter) {
	r.GET("/artifacts", func(c *gin.Context) {
		source := c.Query("source")
		kind := models.Kind(c.Query("kind"))
		dateStr := c.Query("date")

		// Required query params per contract.
		if !validate.ValidSource(source) || dateStr == "" || !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source, kind (transaction|application) and date are required"})
			return
		}
		day, err := time.Parse(store.DateLayout, dateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}

		prefix := store.DayPrefix(source, kind, day)
		objs, err := objects.List(c.Request.Context(), prefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
			return
		}
		if objs == nil {
			objs = []store.Object{}
		}

		c.JSON(http.StatusOK, gin.H{
			"prefix":    prefix,
			"count":     len(objs),
			"artifacts": objs,
		})
	})

	r.GET("/artifacts/:fingerprint", func(c *gin.Context) {
		fp := c.Param("fingerprint")
		if !fingerprint.Valid(fp) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint must be 64 lowercase hex characters"})
			return
		}
		e, err := entries.Get(c.Request.Context(), fp)
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger lookup failed"})
			return
		}
		c.JSON(http.StatusOK, e)
	})
}
