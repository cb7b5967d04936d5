// Package dataset describes the remote listings that can be crawled and how
// their records map onto table rows.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ibeckermayer/slidecrawl/internal/inspect"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

// ErrMissingKey rejects a record whose natural key is absent, null, empty or zero.
var ErrMissingKey = errors.New("missing natural key")

// Kind is the storage type of a column.
type Kind int

const (
	Text      Kind = iota
	Integer        // whole number; numeric strings are accepted
	Decimal        // floating point
	Timestamp      // epoch milliseconds; non-positive or non-numeric values are null
	Counter        // whole number defaulting to 0
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Timestamp:
		return "timestamp"
	case Counter:
		return "counter"
	default:
		return "text"
	}
}

// Column maps one source field of a record onto a table column.
type Column struct {
	Name   string
	Source string
	Kind   Kind
}

// Dataset is one crawlable listing.
type Dataset struct {
	Name        string
	ListingPath string
	// Shape identifies the record array among all arrays in the listing's state.
	Shape    inspect.Shape
	KeyField string
	Table    string
	// Columns are in table order; the key column comes first.
	Columns []Column
	// RangeColumn is reported as min/max by the integrity report.
	RangeColumn  string
	ReportGroups []string
}

// KeyColumn returns the column holding the natural key.
func (d Dataset) KeyColumn() Column {
	c, _ := d.Column(d.KeyField)
	return c
}

// Column looks a column up by source field or column name.
func (d Dataset) Column(name string) (Column, bool) {
	return lo.Find(d.Columns, func(c Column) bool {
		return c.Source == name || c.Name == name
	})
}

// ColumnNames returns the table column names in order.
func (d Dataset) ColumnNames() []string {
	return lo.Map(d.Columns, func(c Column, _ int) string { return c.Name })
}

// Key returns the record's natural key, or "" when it is missing.
func (d Dataset) Key(r types.Record) string {
	return r.Key(d.KeyField)
}

// Row converts a record into column values in table order.
// Empty strings and absent fields become nil; a value that cannot be coerced
// to its column kind rejects the whole record.
func (d Dataset) Row(r types.Record) ([]any, error) {
	if d.Key(r) == "" {
		return nil, ErrMissingKey
	}
	row := make([]any, len(d.Columns))
	for i, c := range d.Columns {
		v, err := Coerce(c.Kind, r[c.Source])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", c.Source, err)
		}
		if v == nil && c.Source == d.KeyField {
			return nil, ErrMissingKey
		}
		row[i] = v
	}
	return row, nil
}

// Coerce normalizes a JSON-decoded value to the Go value stored for kind.
func Coerce(kind Kind, v any) (any, error) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		v = nil
	}
	if v == nil {
		if kind == Counter {
			return int64(0), nil
		}
		return nil, nil
	}

	switch kind {
	case Integer, Counter:
		return toInt(v)
	case Decimal:
		return toFloat(v)
	case Timestamp:
		f, err := toFloat(v)
		if err != nil || f.(float64) <= 0 {
			return nil, nil
		}
		return time.UnixMilli(int64(f.(float64))).UTC(), nil
	default:
		return toText(v)
	}
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("%v is not a whole number", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case bool:
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", n)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func toText(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

var registry = map[string]Dataset{}

func register(d Dataset) {
	registry[d.Name] = d
}

// Get returns the dataset with the given name.
func Get(name string) (Dataset, error) {
	d, ok := registry[name]
	if !ok {
		return Dataset{}, fmt.Errorf("unknown dataset %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered datasets in sorted order.
func Names() []string {
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}

// All returns every registered dataset in name order.
func All() []Dataset {
	return lo.Map(Names(), func(n string, _ int) Dataset { return registry[n] })
}
