// Package fingerprint derives the content hash that is the sole
// deduplication key of the pipeline.
//
// Canonical form v1 hashes, with SHA-256 and an 8-byte big-endian length
// prefix before every component:
//
//  1. the version tag "ingest-fingerprint/v1"
//  2. record_kind
//  3. source_tag
//  4. the number of present payload fields
//  5. each present payload field as name then value, sorted by JSON name
//
// Values are rendered as follows. Strings are used as normalised by the
// validator, and empty strings count as absent. Decimals use their shortest
// exact form ("100.10" becomes "100.1"). Integers are base 10. Timestamps are
// UTC RFC 3339 with nanoseconds, trailing zeros trimmed. Nil pointers and
// zero timestamps are absent.
//
// Any change to this form is a breaking migration: every stored fingerprint
// would stop matching resubmissions of the same record.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// Version is written first into every digest.
const Version = "ingest-fingerprint/v1"

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Fingerprint is a lowercase hex SHA-256 digest.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Valid reports whether s has the shape of a fingerprint.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}

// Field is one canonical name=value pair.
type Field struct {
	Name  string
	Value string
}

// Of computes the fingerprint of a normalised record from a source.
func Of(source string, rec models.Record) (Fingerprint, error) {
	fields, err := Canonical(rec)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writeField(h, Version)
	writeField(h, string(rec.RecordKind()))
	writeField(h, source)
	writeField(h, strconv.Itoa(len(fields)))
	for _, f := range fields {
		writeField(h, f.Name)
		writeField(h, f.Value)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Canonical returns the present payload fields of rec sorted by JSON name.
func Canonical(rec models.Record) ([]Field, error) {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("fingerprint: nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fingerprint: unsupported record type %T", rec)
	}

	t := v.Type()
	fields := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := strings.SplitN(sf.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		value, present, err := render(v.Field(i))
		if err != nil {
			return nil, fmt.Errorf("fingerprint: field %s: %w", name, err)
		}
		if present {
			fields = append(fields, Field{Name: name, Value: value})
		}
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func render(v reflect.Value) (string, bool, error) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", false, nil
		}
		v = v.Elem()
	}

	switch x := v.Interface().(type) {
	case decimal.Decimal:
		return x.String(), true, nil
	case time.Time:
		if x.IsZero() {
			return "", false, nil
		}
		return x.UTC().Format(time.RFC3339Nano), true, nil
	}

	switch v.Kind() {
	case reflect.String:
		s := v.String()
		return s, s != "", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true, nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true, nil
	default:
		return "", false, fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
