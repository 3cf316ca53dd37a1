package tabular

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultMaxRows = 50

var ErrExecution = errors.New("analysis execution failed")

// Evaluator runs a validated plan over fully loaded datasets and returns the
// single textual result.
type Evaluator interface {
	Execute(ctx context.Context, plan *Plan, datasets map[string]*Table) (string, error)
}

// Engine is the in-process Evaluator. It only reads the datasets it is given.
type Engine struct {
	MaxRows int
}

func NewEngine(maxRows int) *Engine {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Engine{MaxRows: maxRows}
}

func (e *Engine) Execute(ctx context.Context, plan *Plan, datasets map[string]*Table) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: %v", ErrExecution, r)
		}
	}()
	if plan == nil {
		return "", fmt.Errorf("%w: nil plan", ErrExecution)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	main, ok := datasets[plan.Table]
	if !ok {
		return "", fmt.Errorf("%w: table %q not loaded", ErrExecution, plan.Table)
	}
	var joined *Table
	if plan.Join != nil {
		if joined, ok = datasets[plan.Join.Table]; !ok {
			return "", fmt.Errorf("%w: table %q not loaded", ErrExecution, plan.Join.Table)
		}
	}
	sc := newScope(describe(main), describeOpt(joined))

	rows := e.combine(plan, main, joined, sc)

	for _, f := range plan.Filters {
		rows, err = applyFilter(rows, f)
		if err != nil {
			return "", err
		}
	}

	columns := sc.bare
	if plan.grouped() {
		columns, rows = aggregate(plan, rows)
	}
	if len(plan.Select) > 0 {
		columns = plan.Select
	}
	if len(plan.Sort) > 0 {
		sortRows(rows, plan.Sort)
	}
	if plan.Limit > 0 && len(rows) > plan.Limit {
		rows = rows[:plan.Limit]
	}
	return e.render(columns, rows), nil
}

func describe(t *Table) Descriptor {
	return Descriptor{Name: t.Name, Columns: t.Columns}
}

func describeOpt(t *Table) *Descriptor {
	if t == nil {
		return nil
	}
	d := describe(t)
	return &d
}

func (e *Engine) combine(plan *Plan, main, joined *Table, sc *scope) []Row {
	expand := func(m, j Row) Row {
		r := make(Row, len(sc.keys))
		for _, c := range main.Columns {
			r[c.Name] = m[c.Name]
			r[main.Name+"."+c.Name] = m[c.Name]
		}
		if joined != nil {
			for _, c := range joined.Columns {
				q := joined.Name + "." + c.Name
				r[q] = j[c.Name]
				if _, taken := r[c.Name]; !taken {
					r[c.Name] = j[c.Name]
				}
			}
		}
		return r
	}

	if joined == nil {
		rows := make([]Row, len(main.Rows))
		for i, m := range main.Rows {
			rows[i] = expand(m, nil)
		}
		return rows
	}

	index := make(map[string][]Row)
	for _, j := range joined.Rows {
		k := joinKey(j[plan.Join.Right])
		if k == "" {
			continue
		}
		index[k] = append(index[k], j)
	}
	var rows []Row
	for _, m := range main.Rows {
		for _, j := range index[joinKey(m[plan.Join.Left])] {
			rows = append(rows, expand(m, j))
		}
	}
	return rows
}

func joinKey(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strings.ToLower(FormatValue(v))
}

func applyFilter(rows []Row, f Filter) ([]Row, error) {
	out := rows[:0:0]
	for _, r := range rows {
		ok, err := match(r[f.Column], f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func match(cell any, f Filter) (bool, error) {
	switch f.Op {
	case "contains":
		if cell == nil {
			return false, nil
		}
		return strings.Contains(strings.ToLower(FormatValue(cell)), strings.ToLower(literalText(f.Value))), nil
	case "in":
		for _, v := range f.Value.([]any) {
			if c, ok := compare(cell, v); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	case "between":
		bounds := f.Value.([]any)
		lo, okLo := compare(cell, bounds[0])
		hi, okHi := compare(cell, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0, nil
	}

	c, ok := compare(cell, f.Value)
	switch f.Op {
	case "eq":
		return ok && c == 0, nil
	case "ne":
		return !ok || c != 0, nil
	case "gt":
		return ok && c > 0, nil
	case "gte":
		return ok && c >= 0, nil
	case "lt":
		return ok && c < 0, nil
	case "lte":
		return ok && c <= 0, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", ErrExecution, f.Op)
}

// compare orders a typed cell against a plan literal. ok is false when the
// two cannot be compared. Date literals without a time compare by day.
func compare(cell, literal any) (int, bool) {
	if cell == nil || literal == nil {
		return 0, false
	}
	switch c := cell.(type) {
	case int64:
		f, ok := literalFloat(literal)
		return cmpFloat(float64(c), f), ok
	case float64:
		f, ok := literalFloat(literal)
		return cmpFloat(c, f), ok
	case bool:
		b, ok := literalBool(literal)
		if !ok {
			return 0, false
		}
		switch {
		case c == b:
			return 0, true
		case !c:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		text := literalText(literal)
		t, ok := parseDate(text)
		if !ok {
			return 0, false
		}
		if dateOnly(text) {
			y, m, d := c.Date()
			c = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
		}
		return c.Compare(t), true
	case string:
		return strings.Compare(strings.ToLower(c), strings.ToLower(literalText(literal))), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func literalFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func literalBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

func literalText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return FormatValue(v)
}

func aggregate(plan *Plan, rows []Row) ([]string, []Row) {
	type group struct {
		key  Row
		rows []Row
	}
	var (
		order  []string
		groups = make(map[string]*group)
	)
	for _, r := range rows {
		parts := make([]string, len(plan.GroupBy))
		for i, g := range plan.GroupBy {
			parts[i] = FormatValue(r[g])
		}
		k := strings.Join(parts, "\x1f")
		grp, ok := groups[k]
		if !ok {
			key := make(Row, len(plan.GroupBy))
			for _, g := range plan.GroupBy {
				key[g] = r[g]
			}
			grp = &group{key: key}
			groups[k] = grp
			order = append(order, k)
		}
		grp.rows = append(grp.rows, r)
	}
	// An ungrouped aggregate over no rows still yields one row.
	if len(plan.GroupBy) == 0 && len(order) == 0 {
		groups[""] = &group{key: Row{}}
		order = append(order, "")
	}

	columns := append([]string(nil), plan.GroupBy...)
	for _, a := range plan.Aggregates {
		columns = append(columns, a.Name())
	}
	out := make([]Row, 0, len(order))
	for _, k := range order {
		grp := groups[k]
		r := make(Row, len(columns))
		for g, v := range grp.key {
			r[g] = v
		}
		for _, a := range plan.Aggregates {
			r[a.Name()] = reduce(a, grp.rows)
		}
		out = append(out, r)
	}
	return columns, out
}

func reduce(a Aggregate, rows []Row) any {
	if a.Func == "count" && (a.Column == "" || a.Column == "*") {
		return int64(len(rows))
	}
	var values []any
	for _, r := range rows {
		if v := r[a.Column]; v != nil {
			values = append(values, v)
		}
	}
	switch a.Func {
	case "count":
		return int64(len(values))
	case "count_distinct":
		seen := make(map[string]struct{})
		for _, v := range values {
			seen[FormatValue(v)] = struct{}{}
		}
		return int64(len(seen))
	case "min", "max":
		var best any
		for _, v := range values {
			if best == nil {
				best = v
				continue
			}
			c, ok := compareCells(v, best)
			if ok && ((a.Func == "min" && c < 0) || (a.Func == "max" && c > 0)) {
				best = v
			}
		}
		return best
	case "sum", "avg":
		var (
			sum     float64
			n       int
			allInts = true
		)
		for _, v := range values {
			switch t := v.(type) {
			case int64:
				sum += float64(t)
				n++
			case float64:
				sum += t
				allInts = false
				n++
			}
		}
		if a.Func == "avg" {
			if n == 0 {
				return nil
			}
			return sum / float64(n)
		}
		if allInts {
			return int64(sum)
		}
		return sum
	}
	panic("unknown aggregate " + a.Func)
}

func compareCells(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch x := a.(type) {
	case int64:
		f, ok := cellFloat(b)
		return cmpFloat(float64(x), f), ok
	case float64:
		f, ok := cellFloat(b)
		return cmpFloat(x, f), ok
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmpFloat(boolFloat(x), boolFloat(y)), true
	case string:
		return strings.Compare(x, FormatValue(b)), true
	}
	return 0, false
}

func cellFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// sortRows is stable; nil sorts last regardless of direction.
func sortRows(rows []Row, keys []SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := rows[i][k.Column], rows[j][k.Column]
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return false
			case b == nil:
				return true
			}
			c, ok := compareCells(a, b)
			if !ok || c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func (e *Engine) render(columns []string, rows []Row) string {
	if len(rows) == 0 {
		return "No rows matched."
	}
	if len(rows) == 1 && len(columns) == 1 {
		return FormatValue(rows[0][columns[0]])
	}
	maxRows := e.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	shown := rows
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	cells := make([][]string, len(shown))
	for i, r := range shown {
		line := make([]string, len(columns))
		for j, c := range columns {
			line[j] = FormatValue(r[c])
		}
		cells[i] = line
	}
	out := renderTable(columns, cells)
	if len(rows) > len(shown) {
		out += fmt.Sprintf("\n(%d of %d rows shown)", len(shown), len(rows))
	}
	return out
}

func renderTable(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(header, " | "))
	for _, r := range rows {
		b.WriteByte('\n')
		b.WriteString(strings.Join(r, " | "))
	}
	return b.String()
}

// FormatValue prints a cell the way results are shown to users.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(math.Round(t*10000)/10000, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}
