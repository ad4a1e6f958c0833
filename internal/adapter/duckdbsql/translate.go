package duckdbsql

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

// Table is the node-side document table.
const Table = "documents"

// dialect holds the renderings that differ between engine versions.
type dialect struct {
	name string
	// latest renders the newest non-null JSON value of expr as VARCHAR.
	latest func(expr string) string
	// percentile renders a percentile over num and reports whether it is exact.
	percentile func(num string, fraction float64) (string, bool)
}

var current = dialect{
	name: "current",
	latest: func(expr string) string {
		return fmt.Sprintf("CAST(arg_max(%s, ts) FILTER (WHERE %s IS NOT NULL) AS VARCHAR)", expr, expr)
	},
	percentile: func(num string, fraction float64) (string, bool) {
		return fmt.Sprintf("quantile_cont(%s, %s)", num, formatFloat(fraction)), true
	},
}

var legacy = dialect{
	name: "legacy",
	latest: func(expr string) string {
		return fmt.Sprintf("CAST(first(%s ORDER BY ts DESC) FILTER (WHERE %s IS NOT NULL) AS VARCHAR)", expr, expr)
	},
	percentile: func(num string, fraction float64) (string, bool) {
		return fmt.Sprintf("approx_quantile(%s, %s)", num, formatFloat(fraction)), false
	},
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// jsonPath renders a quoted JSON path for a top-level document field.
func jsonPath(field string) string {
	key := strings.ReplaceAll(field, `"`, `\"`)
	return quote(`$."` + key + `"`)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// textExpr renders a field as VARCHAR, NULL when absent. An empty message
// counts as absent.
func textExpr(field string) string {
	switch field {
	case "message":
		return "NULLIF(message, '')"
	case "timestamp":
		return "CAST(ts AS VARCHAR)"
	}
	return fmt.Sprintf("json_extract_string(fields, %s)", jsonPath(field))
}

// jsonExpr renders a field as a JSON value, NULL when absent.
func jsonExpr(field string) string {
	switch field {
	case "message":
		return "to_json(NULLIF(message, ''))"
	case "timestamp":
		return "to_json(ts)"
	}
	return fmt.Sprintf("json_extract(fields, %s)", jsonPath(field))
}

func numExpr(field string) string {
	if field == "timestamp" {
		return "CAST(ts AS DOUBLE)"
	}
	return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", textExpr(field))
}

// column is one rendered select expression and what it maps back to.
type column struct {
	alias string
	expr  string
	spec  series.Spec
	exact bool
}

// renderSeries translates one series. Unknown variants fail before any SQL
// is sent.
func (d dialect) renderSeries(s series.Spec, alias string) (column, error) {
	col := column{alias: alias, spec: s, exact: true}
	switch v := s.(type) {
	case series.Count:
		if v.Field() == "" {
			col.expr = "count(*)"
		} else {
			col.expr = fmt.Sprintf("count(%s)", textExpr(v.Field()))
		}
	case series.Sum:
		col.expr = fmt.Sprintf("sum(%s)", numExpr(v.Field()))
	case series.Avg:
		col.expr = fmt.Sprintf("avg(%s)", numExpr(v.Field()))
	case series.Min:
		col.expr = fmt.Sprintf("min(%s)", numExpr(v.Field()))
	case series.Max:
		col.expr = fmt.Sprintf("max(%s)", numExpr(v.Field()))
	case series.Card:
		col.expr = fmt.Sprintf("count(DISTINCT %s)", textExpr(v.Field()))
	case series.StdDev:
		col.expr = fmt.Sprintf("stddev_pop(%s)", numExpr(v.Field()))
	case series.Percentile:
		col.expr, col.exact = d.percentile(numExpr(v.Field()), v.Fraction())
	case series.Latest:
		col.expr = d.latest(jsonExpr(v.Field()))
	default:
		return column{}, &adapter.UnsupportedSeriesTypeError{Type: s.Type()}
	}
	return col, nil
}

// query is a rendered request.
type query struct {
	sql     string
	args    []any
	columns []column
	groups  int
}

func (d dialect) build(req adapter.Request, bounds timerange.Bounds) (query, error) {
	q := query{groups: len(req.GroupBy)}
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question).Select().From(Table)

	var groupAliases []string
	for i, g := range req.GroupBy {
		alias := "g" + strconv.Itoa(i)
		groupAliases = append(groupAliases, alias)
		sb = sb.Column(textExpr(g) + " AS " + alias)
	}
	for i, s := range req.Series {
		col, err := d.renderSeries(s, "s"+strconv.Itoa(i))
		if err != nil {
			return query{}, err
		}
		q.columns = append(q.columns, col)
		sb = sb.Column(col.expr + " AS " + col.alias)
	}

	sb = sb.Where(sq.Eq{"index_name": req.Index})
	if !bounds.Unbounded {
		sb = sb.Where(sq.GtOrEq{"ts": bounds.From.UnixMilli()})
	}
	sb = sb.Where(sq.LtOrEq{"ts": bounds.To.UnixMilli()})
	for _, g := range req.GroupBy {
		sb = sb.Where(textExpr(g) + " IS NOT NULL")
	}
	if len(groupAliases) > 0 {
		sb = sb.GroupBy(groupAliases...).OrderBy(groupAliases...)
	}

	sql, args, err := sb.ToSql()
	if err != nil {
		return query{}, fmt.Errorf("render sql: %w", err)
	}
	q.sql, q.args = sql, args
	return q, nil
}
