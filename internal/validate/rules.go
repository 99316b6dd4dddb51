package validate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// maxScale is the number of fractional digits accepted on monetary fields.
const maxScale = 4

// maxIntegerDigits bounds the integer part of any decimal field, and
// minExponent bounds how small a value's exponent may be. Both are read
// from the parsed form so no rule ever expands an extreme exponent.
const (
	maxIntegerDigits = 30
	minExponent      = -(maxScale + 20)
)

// earliestTimestamp is the lower bound for any occurrence timestamp.
var earliestTimestamp = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Env is what a rule may consult besides the record itself.
type Env struct {
	Now    time.Time
	Limits Limits
}

// Rule is one named business predicate. Check returns nil on pass.
type Rule struct {
	Name  string
	Check func(rec models.Record, env Env) *models.FieldError
}

// TransactionRules is the ordered rule list for transactions.
func TransactionRules() []Rule {
	amount := func(rec models.Record) *decimal.Decimal { return rec.(*models.Transaction).Amount }
	posted := func(rec models.Record) time.Time { return rec.(*models.Transaction).PostedAt }

	return []Rule{
		inRange("amount_bounds", "amount", amount),
		nonNegative("amount_non_negative", "amount", amount),
		withinMaxAmount("amount_magnitude", "amount", amount),
		withinScale("amount_scale", "amount", amount),
		notInFuture("posted_at_not_future", "posted_at", posted),
		notAncient("posted_at_not_ancient", "posted_at", posted),
	}
}

// ApplicationRules is the ordered rule list for loan applications.
func ApplicationRules() []Rule {
	app := func(rec models.Record) *models.LoanApplication { return rec.(*models.LoanApplication) }
	loan := func(rec models.Record) *decimal.Decimal { return app(rec).LoanAmount }
	rate := func(rec models.Record) *decimal.Decimal { return app(rec).InterestRate }
	income := func(rec models.Record) *decimal.Decimal { return app(rec).AnnualIncome }
	debt := func(rec models.Record) *decimal.Decimal { return app(rec).ExistingDebt }
	applied := func(rec models.Record) time.Time { return app(rec).AppliedAt }

	return []Rule{
		inRange("loan_amount_bounds", "loan_amount", loan),
		inRange("interest_rate_bounds", "interest_rate", rate),
		inRange("annual_income_bounds", "annual_income", income),
		inRange("existing_debt_bounds", "existing_debt", debt),
		{
			Name: "loan_amount_positive",
			Check: func(rec models.Record, _ Env) *models.FieldError {
				if d := loan(rec); bounded(d) && !d.IsPositive() {
					return &models.FieldError{Field: "loan_amount", Reason: "must be greater than 0"}
				}
				return nil
			},
		},
		withinMaxAmount("loan_amount_magnitude", "loan_amount", loan),
		withinScale("loan_amount_scale", "loan_amount", loan),
		{
			Name: "interest_rate_range",
			Check: func(rec models.Record, _ Env) *models.FieldError {
				d := rate(rec)
				if bounded(d) && (d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100))) {
					return &models.FieldError{Field: "interest_rate", Reason: "must be between 0 and 100"}
				}
				return nil
			},
		},
		nonNegative("annual_income_non_negative", "annual_income", income),
		withinMaxAmount("annual_income_magnitude", "annual_income", income),
		nonNegative("existing_debt_non_negative", "existing_debt", debt),
		withinMaxAmount("existing_debt_magnitude", "existing_debt", debt),
		notInFuture("applied_at_not_future", "applied_at", applied),
		notAncient("applied_at_not_ancient", "applied_at", applied),
	}
}

// bounded reports whether d is present and small enough for the other
// decimal rules to inspect.
func bounded(d *decimal.Decimal) bool {
	if d == nil {
		return false
	}
	exp := d.Exponent()
	if exp < minExponent || exp > maxIntegerDigits {
		return false
	}
	return d.NumDigits()+int(exp) <= maxIntegerDigits
}

func inRange(name, field string, get func(models.Record) *decimal.Decimal) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, _ Env) *models.FieldError {
			if d := get(rec); d != nil && !bounded(d) {
				return &models.FieldError{Field: field, Reason: "must be a decimal number within range"}
			}
			return nil
		},
	}
}

func nonNegative(name, field string, get func(models.Record) *decimal.Decimal) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, _ Env) *models.FieldError {
			if d := get(rec); bounded(d) && d.IsNegative() {
				return &models.FieldError{Field: field, Reason: "must be non-negative"}
			}
			return nil
		},
	}
}

func withinMaxAmount(name, field string, get func(models.Record) *decimal.Decimal) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, env Env) *models.FieldError {
			if d := get(rec); bounded(d) && d.GreaterThan(env.Limits.MaxAmount) {
				return &models.FieldError{Field: field, Reason: "must not exceed " + env.Limits.MaxAmount.String()}
			}
			return nil
		},
	}
}

func withinScale(name, field string, get func(models.Record) *decimal.Decimal) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, _ Env) *models.FieldError {
			d := get(rec)
			if !bounded(d) {
				return nil
			}
			// Exponent is only meaningful after trailing zeros are dropped.
			if normalized, _ := decimal.NewFromString(d.String()); normalized.Exponent() < -maxScale {
				return &models.FieldError{Field: field, Reason: fmt.Sprintf("must have at most %d decimal places", maxScale)}
			}
			return nil
		},
	}
}

func notInFuture(name, field string, get func(models.Record) time.Time) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, env Env) *models.FieldError {
			if ts := get(rec); ts.After(env.Now.Add(env.Limits.MaxFutureSkew)) {
				return &models.FieldError{Field: field, Reason: "must not be in the future"}
			}
			return nil
		},
	}
}

func notAncient(name, field string, get func(models.Record) time.Time) Rule {
	return Rule{
		Name: name,
		Check: func(rec models.Record, _ Env) *models.FieldError {
			if ts := get(rec); !ts.IsZero() && ts.Before(earliestTimestamp) {
				return &models.FieldError{Field: field, Reason: "must not be before 1900-01-01"}
			}
			return nil
		},
	}
}
