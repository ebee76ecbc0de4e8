// Package database builds parameterized SELECT statements with sanitized identifiers.
package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	LessThan           ConditionType = "<"
	GreaterThanOrEqual ConditionType = ">="
	Any                ConditionType = "ANY"
	noLimit                          = -1
)

// Condition is one AND-ed predicate of a WHERE clause.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int
}

type ListQueryOption func(*ListQueryOptions)

func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{Table: table, Limit: noLimit}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition adds a single condition.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithOrderBy sets the ordering column and direction.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// WithLimit sets the limit. Values <= 0 mean unbounded.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

// WithCountOnly sets the query to count only.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

func sanitizeIdentifier(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

func buildSelectClause(options *ListQueryOptions) string {
	if options.CountOnly {
		return "SELECT COUNT(*) "
	}
	if len(options.Columns) == 0 {
		return "SELECT * "
	}
	cols := make([]string, len(options.Columns))
	for i, c := range options.Columns {
		cols[i] = sanitizeIdentifier(c)
	}
	return "SELECT " + strings.Join(cols, ", ") + " "
}

func buildWhereClause(conds []Condition, start int) (string, []any, int) {
	parts := make([]string, 0, len(conds))
	var args []any
	n := start
	for _, c := range conds {
		if c.Field == "" {
			continue
		}
		field := sanitizeIdentifier(c.Field)
		switch c.Type {
		case Any:
			parts = append(parts, fmt.Sprintf("%s = ANY($%d)", field, n))
		case Equal, NotEqual, LessThan, GreaterThanOrEqual:
			parts = append(parts, fmt.Sprintf("%s %s $%d", field, c.Type, n))
		default:
			continue
		}
		args = append(args, c.Value)
		n++
	}
	if len(parts) == 0 {
		return "", args, n
	}
	return "WHERE " + strings.Join(parts, " AND "), args, n
}

// BuildListQuery constructs a SQL query string and arguments from options.
//
//	query, args := BuildListQuery(NewListQueryOptions("job_records",
//		WithCondition(WhereCond("status", Equal, "inprogress")),
//		WithOrderBy("created_at", "ASC"),
//		WithLimit(10),
//	))
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}
	var q strings.Builder
	q.WriteString(buildSelectClause(options))
	q.WriteString("FROM ")
	q.WriteString(sanitizeIdentifier(options.Table))

	where, args, next := buildWhereClause(options.Conditions, 1)
	if where != "" {
		q.WriteString(" ")
		q.WriteString(where)
	}
	if options.CountOnly {
		return q.String(), args
	}
	if options.OrderBy != "" {
		q.WriteString(" ORDER BY ")
		q.WriteString(sanitizeIdentifier(options.OrderBy))
		if dir := strings.ToUpper(options.OrderDir); dir == "ASC" || dir == "DESC" {
			q.WriteString(" " + dir)
		}
	}
	if options.Limit != noLimit {
		fmt.Fprintf(&q, " LIMIT $%d", next)
		args = append(args, options.Limit)
	}
	return q.String(), args
}
