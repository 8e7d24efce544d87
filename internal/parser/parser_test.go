package parser

import (
	"testing"

	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestConfig() config.TablesConfig {
	return config.TablesConfig{
		"orders": {
			Enabled:  true,
			Database: "shard_orders",
		},
		"invoices": {
			Enabled: true,
			// no explicit Database: falls back to the table name
		},
	}
}

func TestParseSelect(t *testing.T) {
	parser := NewParser(getTestConfig())

	tests := []struct {
		name      string
		query     string
		wantTable string
	}{
		{"simple select", "SELECT * FROM orders WHERE id = 123", "orders"},
		{"select specific columns", "SELECT customer_id, total_amount FROM orders", "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq, err := parser.Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, QueryTypeSelect, pq.Type)
			assert.Equal(t, tt.wantTable, pq.TableName)
			assert.False(t, pq.Type.IsMutation())
		})
	}
}

func TestParseInsert(t *testing.T) {
	parser := NewParser(getTestConfig())

	pq, err := parser.Parse("INSERT INTO orders (customer_id, total_amount) VALUES (123, 500000)")
	require.NoError(t, err)
	assert.Equal(t, QueryTypeInsert, pq.Type)
	assert.Equal(t, "orders", pq.TableName)
	assert.True(t, pq.Type.IsMutation())
}

func TestParseUpdate(t *testing.T) {
	parser := NewParser(getTestConfig())

	pq, err := parser.Parse("UPDATE orders SET status = 'shipped' WHERE id = 123")
	require.NoError(t, err)
	assert.Equal(t, QueryTypeUpdate, pq.Type)
	assert.Equal(t, "orders", pq.TableName)
	assert.True(t, pq.Type.IsMutation())
}

func TestParseDelete(t *testing.T) {
	parser := NewParser(getTestConfig())

	pq, err := parser.Parse("DELETE FROM orders WHERE id = 123")
	require.NoError(t, err)
	assert.Equal(t, QueryTypeDelete, pq.Type)
	assert.Equal(t, "orders", pq.TableName)
	assert.True(t, pq.Type.IsMutation())
}

func TestParseInvalidSQL(t *testing.T) {
	parser := NewParser(getTestConfig())

	invalidQueries := []string{
		"THIS IS NOT SQL",
		"SELECT * FROM",
		"INSERT INTO",
		"UPDATE SET status = 'test'",
	}

	for _, query := range invalidQueries {
		t.Run(query, func(t *testing.T) {
			_, err := parser.Parse(query)
			assert.Error(t, err)
		})
	}
}

func TestResolveDatabase(t *testing.T) {
	parser := NewParser(getTestConfig())

	tests := []struct {
		name      string
		query     string
		defaultDB string
		want      string
	}{
		{"mapped table uses configured database", "SELECT * FROM orders", "fallback", "shard_orders"},
		{"unmapped configured table falls back to table name", "SELECT * FROM invoices", "fallback", "invoices"},
		{"unconfigured table falls back to table name", "SELECT * FROM users", "fallback", "users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pq, err := parser.Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, parser.ResolveDatabase(pq, tt.defaultDB))
		})
	}
}

func TestResolveDatabaseNoTableFallsBackToDefault(t *testing.T) {
	parser := NewParser(getTestConfig())
	pq := &ParsedQuery{Type: QueryTypeUnknown}
	assert.Equal(t, "fallback", parser.ResolveDatabase(pq, "fallback"))
}

func TestQueryTypeString(t *testing.T) {
	tests := []struct {
		queryType QueryType
		want      string
	}{
		{QueryTypeSelect, "SELECT"},
		{QueryTypeInsert, "INSERT"},
		{QueryTypeUpdate, "UPDATE"},
		{QueryTypeDelete, "DELETE"},
		{QueryTypeUnknown, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.queryType.String())
		})
	}
}

func TestQueryTypeIsMutation(t *testing.T) {
	assert.False(t, QueryTypeSelect.IsMutation())
	assert.True(t, QueryTypeInsert.IsMutation())
	assert.True(t, QueryTypeUpdate.IsMutation())
	assert.True(t, QueryTypeDelete.IsMutation())
	assert.False(t, QueryTypeUnknown.IsMutation())
}

func TestNormalizeTableName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"orders", "orders"},
		{"`orders`", "orders"},
		{"\"orders\"", "orders"},
		{"`my_table`", "my_table"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTableName(tt.input))
		})
	}
}
