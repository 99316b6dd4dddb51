package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which endpoint a record arrived on. Its value is also the
// record_kind segment of artifact keys and events.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindApplication Kind = "application"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindTransaction || k == KindApplication
}

// BatchField is the JSON key holding the records of this kind in a batch body.
func (k Kind) BatchField() string {
	switch k {
	case KindTransaction:
		return "transactions"
	case KindApplication:
		return "applications"
	default:
		return ""
	}
}

// Record is a decoded transaction or loan application.
type Record interface {
	RecordID() string
	RecordKind() Kind
	OccurredAt() time.Time
}

// NewRecord returns an empty record of the given kind, ready to decode into.
func NewRecord(k Kind) Record {
	switch k {
	case KindTransaction:
		return &Transaction{}
	case KindApplication:
		return &LoanApplication{}
	default:
		return nil
	}
}

// Transaction is one posted account transaction.
type Transaction struct {
	TransactionID   string           `json:"transaction_id" validate:"required,max=128"`
	AccountID       string           `json:"account_id" validate:"required,max=128"`
	CustomerID      string           `json:"customer_id,omitempty" validate:"max=128"`
	Amount          *decimal.Decimal `json:"amount" validate:"required"`
	Currency        string           `json:"currency" validate:"required,iso4217"`
	PostedAt        time.Time        `json:"posted_at" validate:"required"`
	Description     string           `json:"description,omitempty" validate:"max=500"`
	MCC             string           `json:"mcc,omitempty" validate:"omitempty,len=4,numeric"`
	Counterparty    string           `json:"counterparty,omitempty" validate:"max=200"`
	TransactionType string           `json:"transaction_type" validate:"required,oneof=debit credit transfer fee interest adjustment"`
	Channel         string           `json:"channel,omitempty" validate:"max=64"`
}

func (t *Transaction) RecordID() string      { return t.TransactionID }
func (t *Transaction) RecordKind() Kind      { return KindTransaction }
func (t *Transaction) OccurredAt() time.Time { return t.PostedAt }

// LoanApplication is one submitted loan application.
type LoanApplication struct {
	ApplicationID          string           `json:"application_id" validate:"required,max=128"`
	CustomerID             string           `json:"customer_id" validate:"required,max=128"`
	AccountID              string           `json:"account_id,omitempty" validate:"max=128"`
	LoanAmount             *decimal.Decimal `json:"loan_amount" validate:"required"`
	LoanPurpose            string           `json:"loan_purpose" validate:"required,oneof=personal business home_improvement debt_consolidation auto education medical other"`
	LoanTermMonths         int              `json:"loan_term_months" validate:"required,gt=0,lte=360"`
	InterestRate           *decimal.Decimal `json:"interest_rate,omitempty"`
	AnnualIncome           *decimal.Decimal `json:"annual_income,omitempty"`
	EmploymentStatus       string           `json:"employment_status,omitempty" validate:"max=64"`
	EmploymentLengthMonths *int             `json:"employment_length_months,omitempty" validate:"omitempty,gte=0"`
	CreditScore            *int             `json:"credit_score,omitempty" validate:"omitempty,gte=300,lte=850"`
	ExistingDebt           *decimal.Decimal `json:"existing_debt,omitempty"`
	AppliedAt              time.Time        `json:"applied_at" validate:"required"`
	Channel                string           `json:"channel,omitempty" validate:"max=64"`
}

func (a *LoanApplication) RecordID() string      { return a.ApplicationID }
func (a *LoanApplication) RecordKind() Kind      { return KindApplication }
func (a *LoanApplication) OccurredAt() time.Time { return a.AppliedAt }
