// Package rows defines the CSV column sets accepted by the ingest pipeline and
// turns raw string rows into typed records.
package rows

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

// DateFormat is the layout of every date column.
const DateFormat = "2006-01-02"

type ColumnType int

const (
	TypeString ColumnType = iota
	TypeList
	TypeInt
	TypeDate
)

type Column struct {
	Name string
	Type ColumnType
}

// Field is the normalized name the parser keys values by.
func (c Column) Field() string { return FieldName(c.Name) }

type Kind string

const (
	KindCCLWDocument   Kind = "cclw_document"
	KindEvent          Kind = "event"
	KindUNFCCCDocument Kind = "unfccc_document"
	KindCollection     Kind = "collection"
)

type Schema struct {
	Kind    Kind
	Columns []Column
}

var (
	ErrSchemaMismatch    = errors.New("csv columns do not match schema")
	ErrMultipleDocuments = errors.New("more than one document in row")
)

// SchemaError lists the required columns missing from a header.
type SchemaError struct {
	Kind    Kind
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s csv is missing columns: %s", e.Kind, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchemaMismatch }

// FieldError reports a value that could not be coerced to its column type.
type FieldError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("column %q value %q: %v", e.Column, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FieldName lowercases a column name and collapses whitespace and
// punctuation runs into single underscores.
func FieldName(column string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(column) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pending = true
	}
	return b.String()
}

// ValidateColumns returns the display names of required columns absent from
// header, sorted. Extra header columns are ignored.
func (s Schema) ValidateColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[FieldName(h)] = true
	}
	var missing []string
	for _, c := range s.Columns {
		if !present[c.Field()] {
			missing = append(missing, c.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// CheckHeader wraps ValidateColumns into a SchemaError.
func (s Schema) CheckHeader(header []string) error {
	if missing := s.ValidateColumns(header); len(missing) > 0 {
		return &SchemaError{Kind: s.Kind, Missing: missing}
	}
	return nil
}

// values holds one row's coerced fields.
type values map[string]any

func (v values) str(field string) string {
	s, _ := v[field].(string)
	return s
}

func (v values) list(field string) []string {
	l, _ := v[field].([]string)
	return l
}

func (v values) integer(field string) int {
	i, _ := v[field].(int)
	return i
}

func (v values) date(field string) time.Time {
	t, _ := v[field].(time.Time)
	return t
}

// coerce converts every declared column of a raw row. Keys of raw may be
// display names or field names.
func (s Schema) coerce(row int, raw map[string]string) (values, error) {
	normalized := make(map[string]string, len(raw))
	for k, v := range raw {
		normalized[FieldName(k)] = v
	}
	out := make(values, len(s.Columns))
	for _, c := range s.Columns {
		v, err := coerceValue(c, strings.TrimSpace(normalized[c.Field()]))
		if err != nil {
			return nil, &FieldError{Row: row, Column: c.Name, Value: normalized[c.Field()], Err: err}
		}
		out[c.Field()] = v
	}
	return out, nil
}

func coerceValue(c Column, v string) (any, error) {
	switch c.Type {
	case TypeDate:
		if v == "" {
			return nil, errors.New("date required")
		}
		t, err := time.Parse(DateFormat, v)
		if err != nil {
			return nil, errors.Newf("expected date in %s format", DateFormat)
		}
		return t, nil
	case TypeList:
		return SplitList(v), nil
	case TypeInt:
		if v == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("expected integer")
		}
		return i, nil
	case TypeString:
		return v, nil
	}
	return nil, errors.AssertionFailedf("column %s has unsupported type %d", c.Name, c.Type)
}

// SplitList splits a ;-delimited value, trimming tokens and dropping blanks.
func SplitList(v string) []string {
	res := []string{}
	for _, part := range strings.Split(v, ";") {
		if p := strings.TrimSpace(part); p != "" {
			res = append(res, p)
		}
	}
	return res
}

// IsNA reports the literal "n/a" placeholder used for "no value".
func IsNA(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "n/a")
}

// FirstURL extracts the url from a documents cell of url|language pairs. A
// cell holding more than one document is an error, never truncated.
func FirstURL(documents string) (string, error) {
	docs := SplitList(documents)
	switch len(docs) {
	case 0:
		return "", nil
	case 1:
		url, _, _ := strings.Cut(docs[0], "|")
		return strings.TrimSpace(url), nil
	}
	return "", errors.Wrapf(ErrMultipleDocuments, "found %d in %q", len(docs), documents)
}
