// Package parser extracts routing information from client SQL text: the
// query's type and the logical database (pool block) it should run
// against. Adapted from the teacher's currency-column detector into a
// target-database resolver for the adaptive connection pool.
package parser

import (
	"fmt"

	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/xwb1989/sqlparser"
)

// QueryType represents the type of SQL query.
type QueryType int

const (
	QueryTypeUnknown QueryType = iota
	QueryTypeSelect
	QueryTypeInsert
	QueryTypeUpdate
	QueryTypeDelete
)

func (qt QueryType) String() string {
	switch qt {
	case QueryTypeSelect:
		return "SELECT"
	case QueryTypeInsert:
		return "INSERT"
	case QueryTypeUpdate:
		return "UPDATE"
	case QueryTypeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// IsMutation returns true if the query mutates data.
func (qt QueryType) IsMutation() bool {
	return qt == QueryTypeInsert || qt == QueryTypeUpdate || qt == QueryTypeDelete
}

// ParsedQuery is a SQL query with the routing metadata the proxy session
// needs: its type and which table (and therefore which pool block) it
// touches.
type ParsedQuery struct {
	Original  string
	Type      QueryType
	Statement sqlparser.Statement
	TableName string
}

// Parser resolves a query's target pool block via the table → database
// mapping configured in the tables section.
type Parser struct {
	tableConfig config.TablesConfig
}

// NewParser creates a new SQL parser bound to a table/database mapping.
func NewParser(tableConfig config.TablesConfig) *Parser {
	return &Parser{tableConfig: tableConfig}
}

// Parse parses a SQL query and extracts its type and table name.
func (p *Parser) Parse(query string) (*ParsedQuery, error) {
	stmt, err := sqlparser.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	pq := &ParsedQuery{Original: query, Statement: stmt}

	switch stmt := stmt.(type) {
	case *sqlparser.Select:
		pq.Type = QueryTypeSelect
		pq.TableName = firstTableName(stmt.From)
	case *sqlparser.Insert:
		pq.Type = QueryTypeInsert
		pq.TableName = sqlparser.String(stmt.Table)
	case *sqlparser.Update:
		pq.Type = QueryTypeUpdate
		pq.TableName = tableExprsName(stmt.TableExprs)
	case *sqlparser.Delete:
		pq.Type = QueryTypeDelete
		pq.TableName = tableExprsName(stmt.TableExprs)
	default:
		pq.Type = QueryTypeUnknown
	}

	return pq, nil
}

// ResolveDatabase maps a parsed query's table to the pool block name it
// should be acquired against, falling back to the table name itself when
// no explicit mapping is configured (SPEC_FULL §4.8).
func (p *Parser) ResolveDatabase(pq *ParsedQuery, defaultDB string) string {
	if pq.TableName == "" {
		return defaultDB
	}
	if tc, ok := p.tableConfig[pq.TableName]; ok && tc.Database != "" {
		return tc.Database
	}
	return pq.TableName
}

func firstTableName(from sqlparser.TableExprs) string {
	return tableExprsName(from)
}

func tableExprsName(exprs sqlparser.TableExprs) string {
	if len(exprs) == 0 {
		return ""
	}
	aliased, ok := exprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return ""
	}
	name, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return ""
	}
	return name.Name.String()
}

// NormalizeTableName removes backticks and quotes from a table name.
func NormalizeTableName(name string) string {
	trimmed := name
	for len(trimmed) > 0 && (trimmed[0] == '`' || trimmed[0] == '"') {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '`' || trimmed[len(trimmed)-1] == '"') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed
}
