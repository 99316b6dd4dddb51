// Package validate screens raw batch records before fingerprinting.
//
// Validation is pure: a record is decoded, normalised, checked against its
// struct tags and then against the ordered rule list for its kind. Every
// failing field is reported, not only the first.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// Batch-level failures. The orchestrator turns these into a whole-batch
// malformed-request response.
var (
	ErrUnknownKind   = errors.New("unknown record kind")
	ErrEmptyBatch    = errors.New("batch contains no records")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrInvalidSource = errors.New("invalid source tag")
	ErrKindMismatch  = errors.New("record kind does not match batch kind")
)

var sourceTagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Limits bounds batch sizes and field magnitudes.
type Limits struct {
	MaxTransactions int
	MaxApplications int
	MaxAmount       decimal.Decimal
	MaxFutureSkew   time.Duration
}

// DefaultLimits mirrors the upstream contract: 10,000 transactions or 1,000
// applications per batch.
func DefaultLimits() Limits {
	return Limits{
		MaxTransactions: 10000,
		MaxApplications: 1000,
		MaxAmount:       decimal.New(1, 9),
		MaxFutureSkew:   24 * time.Hour,
	}
}

// MaxBatch returns the maximum batch size for kind.
func (l Limits) MaxBatch(k models.Kind) int {
	switch k {
	case models.KindTransaction:
		return l.MaxTransactions
	case models.KindApplication:
		return l.MaxApplications
	default:
		return 0
	}
}

// Failure is a per-record validation failure.
type Failure struct {
	RecordID string
	Fields   []models.FieldError
}

func (f *Failure) Error() string {
	parts := make([]string, 0, len(f.Fields))
	for _, fe := range f.Fields {
		if fe.Field == "" {
			parts = append(parts, fe.Reason)
			continue
		}
		parts = append(parts, fe.Field+" "+fe.Reason)
	}
	return strings.Join(parts, "; ")
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces time.Now for the timestamp rules.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithRules replaces the rule list for one kind.
func WithRules(k models.Kind, rules []Rule) Option {
	return func(v *Validator) { v.rules[k] = rules }
}

// Validator is safe for concurrent use.
type Validator struct {
	structs *validator.Validate
	limits  Limits
	rules   map[models.Kind][]Rule
	now     func() time.Time
	fields  map[models.Kind]map[string]reflect.Type
}

// New builds a Validator with the default rule sets.
func New(limits Limits, opts ...Option) *Validator {
	sv := validator.New()
	sv.RegisterTagNameFunc(jsonName)

	v := &Validator{
		structs: sv,
		limits:  limits,
		rules: map[models.Kind][]Rule{
			models.KindTransaction: TransactionRules(),
			models.KindApplication: ApplicationRules(),
		},
		now: time.Now,
		fields: map[models.Kind]map[string]reflect.Type{
			models.KindTransaction: fieldTypes(reflect.TypeOf(models.Transaction{})),
			models.KindApplication: fieldTypes(reflect.TypeOf(models.LoanApplication{})),
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Limits returns the limits the validator enforces.
func (v *Validator) Limits() Limits { return v.limits }

// Rules returns the ordered business rules applied to kind.
func (v *Validator) Rules(k models.Kind) []Rule { return v.rules[k] }

// Batch applies the batch-level checks: known kind, non-empty, within the
// configured maximum, and a usable source tag.
func (v *Validator) Batch(k models.Kind, source string, size int) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if size == 0 {
		return ErrEmptyBatch
	}
	if max := v.limits.MaxBatch(k); size > max {
		return fmt.Errorf("%w: %d %ss submitted, maximum is %d", ErrBatchTooLarge, size, k, max)
	}
	if !ValidSource(source) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidSource, source, sourceTagPattern)
	}
	return nil
}

// ValidSource reports whether source is usable as an artifact key segment.
func ValidSource(source string) bool {
	return sourceTagPattern.MatchString(source)
}

// Record decodes and validates one raw record. It returns the normalised
// record, a *Failure, or ErrKindMismatch when the record declares another kind.
func (v *Validator) Record(k models.Kind, raw json.RawMessage) (models.Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, &Failure{Fields: []models.FieldError{{Reason: "record must be a JSON object"}}}
	}

	if declared, ok := fields["record_kind"]; ok {
		var s string
		if err := json.Unmarshal(declared, &s); err != nil || models.Kind(strings.TrimSpace(s)) != k {
			return nil, fmt.Errorf("%w: %s", ErrKindMismatch, string(declared))
		}
	}

	rec := models.NewRecord(k)
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, &Failure{RecordID: peekID(k, fields), Fields: v.decodeFailures(k, fields, err)}
	}

	normalize(rec)

	var failed []models.FieldError
	if err := v.structs.Struct(rec); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return nil, err
		}
		for _, fe := range ves {
			failed = append(failed, models.FieldError{Field: fe.Field(), Reason: describeTag(fe)})
		}
	}

	env := Env{Now: v.now().UTC(), Limits: v.limits}
	for _, rule := range v.rules[k] {
		if fe := rule.Check(rec, env); fe != nil {
			failed = append(failed, *fe)
		}
	}

	if len(failed) > 0 {
		return nil, &Failure{RecordID: rec.RecordID(), Fields: failed}
	}
	return rec, nil
}

// PeekID extracts the source identifier from a raw record without
// validating it, so rejections can still be attributed.
func PeekID(k models.Kind, raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	return peekID(k, fields)
}

func peekID(k models.Kind, fields map[string]json.RawMessage) string {
	key := "transaction_id"
	if k == models.KindApplication {
		key = "application_id"
	}
	var id string
	if err := json.Unmarshal(fields[key], &id); err != nil {
		return ""
	}
	return strings.TrimSpace(id)
}

// decodeFailures finds which fields failed to decode by decoding each one
// on its own.
func (v *Validator) decodeFailures(k models.Kind, fields map[string]json.RawMessage, cause error) []models.FieldError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.FieldError
	for _, name := range names {
		typ, known := v.fields[k][name]
		if !known {
			continue
		}
		single, err := json.Marshal(map[string]json.RawMessage{name: fields[name]})
		if err != nil {
			continue
		}
		if err := json.Unmarshal(single, models.NewRecord(k)); err != nil {
			out = append(out, models.FieldError{Field: name, Reason: describeType(typ)})
		}
	}
	if len(out) == 0 {
		out = append(out, models.FieldError{Reason: "malformed record: " + cause.Error()})
	}
	return out
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

func describeType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return "must be an RFC 3339 timestamp"
	case t == decimalType:
		return "must be a decimal number"
	case t.Kind() == reflect.String:
		return "must be a string"
	case t.Kind() == reflect.Int:
		return "must be an integer"
	default:
		return "has an invalid type"
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func fieldTypes(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if name := jsonName(f); name != "" {
			out[name] = f.Type
		}
	}
	return out
}
