package mysqlconn

import (
	"testing"

	"github.com/kafitramarna/TransisiDB/internal/circuitbreaker"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultLogger(t *testing.T) {
	c := New(nil, circuitbreaker.DefaultCircuitBreakerConfig(), nil)
	require.NotNil(t, c.log)
	require.NotNil(t, c.breaker)
}

func TestConnRawExposesUnderlyingSession(t *testing.T) {
	conn := &Conn{db: "billing"}
	require.Equal(t, "billing", conn.db)
	require.Nil(t, conn.Raw())
}

func TestQuoteIdentifierEscapesBackticks(t *testing.T) {
	require.Equal(t, "`billing`", quoteIdentifier("billing"))
	require.Equal(t, "`db``; DROP TABLE x``--`", quoteIdentifier("db`; DROP TABLE x`--"))
}
