package tabular

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidPlan covers undecodable plans and references to unknown
	// tables, columns or operators.
	ErrInvalidPlan = errors.New("invalid analysis plan")
	// ErrUnsupported is returned when the plan declares the question cannot
	// be expressed.
	ErrUnsupported = errors.New("question cannot be expressed as a plan")
)

var (
	filterOps = map[string]struct{}{
		"eq": {}, "ne": {}, "gt": {}, "gte": {}, "lt": {}, "lte": {},
		"contains": {}, "in": {}, "between": {},
	}
	aggregateFuncs = map[string]struct{}{
		"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {}, "count_distinct": {},
	}
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// Plan is a read-only query over one table and an optional inner join.
type Plan struct {
	Unsupported bool        `json:"unsupported,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Table       string      `json:"table,omitempty"`
	Join        *Join       `json:"join,omitempty"`
	Filters     []Filter    `json:"filters,omitempty"`
	GroupBy     []string    `json:"group_by,omitempty"`
	Aggregates  []Aggregate `json:"aggregates,omitempty"`
	Select      []string    `json:"select,omitempty"`
	Sort        []SortKey   `json:"sort,omitempty"`
	Limit       int         `json:"limit,omitempty"`
}

// Join matches Left in the primary table with Right in Table.
type Join struct {
	Table string `json:"table"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Filter compares Column with Value. "in" takes an array and "between" a
// two-element array of inclusive bounds.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

type Aggregate struct {
	Func   string `json:"func"`
	Column string `json:"column,omitempty"`
	As     string `json:"as,omitempty"`
}

// Name is the output column of the aggregate, "<func>_<column>" by default.
func (a Aggregate) Name() string {
	if a.As != "" {
		return a.As
	}
	if a.Column == "" || a.Column == "*" {
		return a.Func
	}
	return a.Func + "_" + a.Column
}

type SortKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// ParsePlan decodes oracle output into a plan and validates it against the
// catalog. Surrounding prose and code fences are ignored.
func ParsePlan(text string, catalog map[string]Descriptor) (*Plan, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("%w: no json object found", ErrInvalidPlan)
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if p.Unsupported {
		return &p, ErrUnsupported
	}
	if err := p.Validate(catalog); err != nil {
		return nil, err
	}
	return &p, nil
}

func extractJSON(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// Tables lists the tables the plan reads, primary first.
func (p *Plan) Tables() []string {
	if p == nil || p.Table == "" {
		return nil
	}
	tables := []string{p.Table}
	if p.Join != nil && p.Join.Table != "" && p.Join.Table != p.Table {
		tables = append(tables, p.Join.Table)
	}
	return tables
}

// JSON renders the plan for display.
func (p *Plan) JSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

func (p *Plan) grouped() bool {
	return len(p.GroupBy) > 0 || len(p.Aggregates) > 0
}

// Validate checks every reference against the catalog and fills aggregate
// aliases.
func (p *Plan) Validate(catalog map[string]Descriptor) error {
	main, ok := catalog[p.Table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", ErrInvalidPlan, p.Table)
	}
	var joined *Descriptor
	if p.Join != nil {
		d, ok := catalog[p.Join.Table]
		if !ok {
			return fmt.Errorf("%w: unknown join table %q", ErrInvalidPlan, p.Join.Table)
		}
		if p.Join.Table == p.Table {
			return fmt.Errorf("%w: self join on %q", ErrInvalidPlan, p.Table)
		}
		joined = &d
	}
	sc := newScope(main, joined)

	if p.Join != nil {
		if !hasColumn(main.Columns, p.Join.Left) {
			return fmt.Errorf("%w: unknown join column %q in %q", ErrInvalidPlan, p.Join.Left, p.Table)
		}
		if !hasColumn(joined.Columns, p.Join.Right) {
			return fmt.Errorf("%w: unknown join column %q in %q", ErrInvalidPlan, p.Join.Right, p.Join.Table)
		}
	}

	for _, f := range p.Filters {
		if !sc.has(f.Column) {
			return fmt.Errorf("%w: unknown filter column %q", ErrInvalidPlan, f.Column)
		}
		if _, ok := filterOps[f.Op]; !ok {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidPlan, f.Op)
		}
		switch f.Op {
		case "in":
			if _, ok := f.Value.([]any); !ok {
				return fmt.Errorf("%w: operator in needs an array", ErrInvalidPlan)
			}
		case "between":
			if arr, ok := f.Value.([]any); !ok || len(arr) != 2 {
				return fmt.Errorf("%w: operator between needs two bounds", ErrInvalidPlan)
			}
		}
	}

	output := make(map[string]struct{})
	if p.grouped() {
		for _, g := range p.GroupBy {
			if !sc.has(g) {
				return fmt.Errorf("%w: unknown group column %q", ErrInvalidPlan, g)
			}
			output[g] = struct{}{}
		}
		for i := range p.Aggregates {
			a := &p.Aggregates[i]
			if _, ok := aggregateFuncs[a.Func]; !ok {
				return fmt.Errorf("%w: unsupported aggregate %q", ErrInvalidPlan, a.Func)
			}
			if a.Column == "*" {
				a.Column = ""
			}
			if a.Column == "" && a.Func != "count" {
				return fmt.Errorf("%w: aggregate %s needs a column", ErrInvalidPlan, a.Func)
			}
			if a.Column != "" && !sc.has(a.Column) {
				return fmt.Errorf("%w: unknown aggregate column %q", ErrInvalidPlan, a.Column)
			}
			a.As = a.Name()
			output[a.As] = struct{}{}
		}
	} else {
		for _, k := range sc.keys {
			output[k] = struct{}{}
		}
	}

	for _, s := range p.Select {
		if _, ok := output[s]; !ok {
			return fmt.Errorf("%w: unknown select column %q", ErrInvalidPlan, s)
		}
	}
	for _, s := range p.Sort {
		if _, ok := output[s.Column]; !ok {
			return fmt.Errorf("%w: unknown sort column %q", ErrInvalidPlan, s.Column)
		}
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidPlan)
	}
	return nil
}

func hasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// scope names the columns visible to a plan. Primary columns are visible
// bare and as "table.column"; joined columns as "table.column" and bare when
// the name is not taken by the primary table.
type scope struct {
	keys     []string
	bare     []string
	set      map[string]struct{}
	mainName string
	joinName string
}

func newScope(main Descriptor, joined *Descriptor) *scope {
	sc := &scope{set: make(map[string]struct{}), mainName: main.Name}
	add := func(k string, display bool) {
		if _, ok := sc.set[k]; ok {
			return
		}
		sc.set[k] = struct{}{}
		sc.keys = append(sc.keys, k)
		if display {
			sc.bare = append(sc.bare, k)
		}
	}
	for _, c := range main.Columns {
		add(c.Name, true)
	}
	if joined != nil {
		sc.joinName = joined.Name
		for _, c := range joined.Columns {
			_, taken := sc.set[c.Name]
			add(c.Name, true)
			if taken {
				add(joined.Name+"."+c.Name, true)
			}
		}
		for _, c := range joined.Columns {
			add(joined.Name+"."+c.Name, false)
		}
	}
	for _, c := range main.Columns {
		add(main.Name+"."+c.Name, false)
	}
	return sc
}

func (s *scope) has(ref string) bool {
	_, ok := s.set[ref]
	return ok
}
