package validate

import (
	"strings"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// defaultCurrency applies when a transaction omits currency.
const defaultCurrency = "USD"

// normalize trims strings, folds case on enumerated fields and moves
// timestamps to UTC. Fingerprints are computed over the normalised form.
func normalize(rec models.Record) {
	switch r := rec.(type) {
	case *models.Transaction:
		r.TransactionID = strings.TrimSpace(r.TransactionID)
		r.AccountID = strings.TrimSpace(r.AccountID)
		r.CustomerID = strings.TrimSpace(r.CustomerID)
		r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
		if r.Currency == "" {
			r.Currency = defaultCurrency
		}
		r.Description = strings.TrimSpace(r.Description)
		r.MCC = strings.TrimSpace(r.MCC)
		r.Counterparty = strings.TrimSpace(r.Counterparty)
		r.TransactionType = strings.ToLower(strings.TrimSpace(r.TransactionType))
		r.Channel = strings.TrimSpace(r.Channel)
		r.PostedAt = r.PostedAt.UTC()
	case *models.LoanApplication:
		r.ApplicationID = strings.TrimSpace(r.ApplicationID)
		r.CustomerID = strings.TrimSpace(r.CustomerID)
		r.AccountID = strings.TrimSpace(r.AccountID)
		r.LoanPurpose = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(r.LoanPurpose)), " ", "_")
		r.EmploymentStatus = strings.TrimSpace(r.EmploymentStatus)
		r.Channel = strings.TrimSpace(r.Channel)
		r.AppliedAt = r.AppliedAt.UTC()
	}
}
