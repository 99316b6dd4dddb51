package fingerprint

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intp(n int) *int { return &n }

func baseTxn() *models.Transaction {
	return &models.Transaction{
		TransactionID:   "txn_123",
		AccountID:       "acc_456",
		Amount:          dec("100.50"),
		Currency:        "USD",
		PostedAt:        time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		TransactionType: "debit",
	}
}

func mustOf(t *testing.T, source string, rec models.Record) Fingerprint {
	t.Helper()
	fp, err := Of(source, rec)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return fp
}

func TestOf_IsDeterministic(t *testing.T) {
	a := mustOf(t, "core-banking", baseTxn())
	b := mustOf(t, "core-banking", baseTxn())
	if a != b {
		t.Fatalf("same record produced %s and %s", a, b)
	}
	if !Valid(string(a)) {
		t.Fatalf("fingerprint %q has the wrong shape", a)
	}
}

func TestOf_EverySingleFieldChangeAltersFingerprint(t *testing.T) {
	mutations := map[string]func(*models.Transaction){
		"transaction_id":   func(r *models.Transaction) { r.TransactionID = "txn_124" },
		"account_id":       func(r *models.Transaction) { r.AccountID = "acc_457" },
		"customer_id":      func(r *models.Transaction) { r.CustomerID = "cust_1" },
		"amount":           func(r *models.Transaction) { r.Amount = dec("100.51") },
		"currency":         func(r *models.Transaction) { r.Currency = "EUR" },
		"posted_at":        func(r *models.Transaction) { r.PostedAt = r.PostedAt.Add(time.Nanosecond) },
		"description":      func(r *models.Transaction) { r.Description = "coffee" },
		"mcc":              func(r *models.Transaction) { r.MCC = "5411" },
		"counterparty":     func(r *models.Transaction) { r.Counterparty = "acme" },
		"transaction_type": func(r *models.Transaction) { r.TransactionType = "credit" },
		"channel":          func(r *models.Transaction) { r.Channel = "atm" },
	}

	base := mustOf(t, "core-banking", baseTxn())
	seen := map[Fingerprint]string{base: "base"}
	for field, mutate := range mutations {
		rec := baseTxn()
		mutate(rec)
		fp := mustOf(t, "core-banking", rec)
		if prev, dup := seen[fp]; dup {
			t.Fatalf("changing %s collided with %s", field, prev)
		}
		seen[fp] = field
	}
}

func TestOf_SourceIsPartOfIdentity(t *testing.T) {
	if mustOf(t, "core-banking", baseTxn()) == mustOf(t, "card-processor", baseTxn()) {
		t.Fatal("different sources share a fingerprint")
	}
}

func TestOf_KindIsPartOfIdentity(t *testing.T) {
	txn := &models.Transaction{TransactionID: "x", CustomerID: "c"}
	app := &models.LoanApplication{ApplicationID: "x", CustomerID: "c"}
	if mustOf(t, "s", txn) == mustOf(t, "s", app) {
		t.Fatal("different kinds share a fingerprint")
	}
}

func TestOf_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := baseTxn()
	a.Description, a.Counterparty = "ab", "c"
	b := baseTxn()
	b.Description, b.Counterparty = "a", "bc"
	if mustOf(t, "s", a) == mustOf(t, "s", b) {
		t.Fatal("moving bytes between fields kept the fingerprint")
	}
}

func TestOf_EquivalentRepresentationsMatch(t *testing.T) {
	a := baseTxn()
	a.Amount = dec("100.10")
	b := baseTxn()
	b.Amount = dec("100.1")
	if mustOf(t, "s", a) != mustOf(t, "s", b) {
		t.Fatal("100.10 and 100.1 fingerprint differently")
	}

	c := baseTxn()
	c.PostedAt = time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("EET", 2*3600))
	if mustOf(t, "s", baseTxn()) != mustOf(t, "s", c) {
		t.Fatal("same instant in another zone fingerprints differently")
	}

	d := baseTxn()
	d.CustomerID = ""
	if mustOf(t, "s", baseTxn()) != mustOf(t, "s", d) {
		t.Fatal("empty optional string is not treated as absent")
	}
}

func TestOf_DecodedVariantsMatch(t *testing.T) {
	v := validate.New(validate.DefaultLimits(), validate.WithClock(func() time.Time {
		return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	}))

	variants := []string{
		`{"transaction_id":"txn_1","account_id":"acc_1","amount":"10.50","currency":"usd","posted_at":"2025-01-01T10:00:00Z","transaction_type":"debit"}`,
		`{
			"transaction_type": "DEBIT",
			"posted_at": "2025-01-01T12:00:00+02:00",
			"currency": " USD ",
			"amount": 10.5,
			"account_id": "acc_1",
			"transaction_id": " txn_1"
		}`,
	}

	var fps []Fingerprint
	for _, raw := range variants {
		rec, err := v.Record(models.KindTransaction, json.RawMessage(raw))
		if err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
		fps = append(fps, mustOf(t, "core-banking", rec))
	}
	if fps[0] != fps[1] {
		t.Fatalf("formatting variants fingerprint differently: %s vs %s", fps[0], fps[1])
	}
}

func TestCanonical_SortedAndSkipsAbsent(t *testing.T) {
	app := &models.LoanApplication{
		ApplicationID:  "app_1",
		CustomerID:     "cust_1",
		LoanAmount:     dec("5000.00"),
		LoanPurpose:    "auto",
		LoanTermMonths: 36,
		CreditScore:    intp(700),
		AppliedAt:      time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC),
	}

	fields, err := Canonical(app)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	want := []Field{
		{"application_id", "app_1"},
		{"applied_at", "2025-01-01T00:00:00.0000005Z"},
		{"credit_score", "700"},
		{"customer_id", "cust_1"},
		{"loan_amount", "5000"},
		{"loan_purpose", "auto"},
		{"loan_term_months", "36"},
	}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d: %v", len(fields), len(want), fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("field %d = %+v, want %+v", i, fields[i], want[i])
		}
	}
}

func TestValid(t *testing.T) {
	good := string(mustOf(t, "s", baseTxn()))
	tests := []struct {
		in   string
		want bool
	}{
		{good, true},
		{"", false},
		{good[:Size-1], false},
		{good + "0", false},
		{"z" + good[1:], false},
		{strings.ToUpper(good), false},
	}
	for _, tc := range tests {
		if got := Valid(tc.in); got != tc.want {
			t.Fatalf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
