package proxy

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/kafitramarna/TransisiDB/internal/mysqlconn"
	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/stretchr/testify/require"
)

type MockConn struct {
	ReadBuf  *bytes.Buffer
	WriteBuf *bytes.Buffer
}

func NewMockConn() *MockConn {
	return &MockConn{
		ReadBuf:  new(bytes.Buffer),
		WriteBuf: new(bytes.Buffer),
	}
}

func (m *MockConn) Read(b []byte) (n int, err error) {
	return m.ReadBuf.Read(b)
}

func (m *MockConn) Write(b []byte) (n int, err error) {
	return m.WriteBuf.Write(b)
}

func (m *MockConn) Close() error                       { return nil }
func (m *MockConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (m *MockConn) SetDeadline(t time.Time) error      { return nil }
func (m *MockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *MockConn) SetWriteDeadline(t time.Time) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{User: "root", Database: "app"},
		Proxy:    config.ProxyConfig{ReadTimeout: time.Second, WriteTimeout: time.Second},
	}
}

func TestNewSession(t *testing.T) {
	cfg := testConfig()
	conn := NewMockConn()

	var p *pool.Pool[*mysqlconn.Conn]
	session := NewSession(conn, cfg, p, 7)

	require.NotNil(t, session)
	require.Equal(t, net.Conn(conn), session.clientConn)
	require.Equal(t, uint32(7), session.connID)
	require.Equal(t, "app", session.database)
}

func TestSessionHandleFailsOnTruncatedHandshakeResponse(t *testing.T) {
	cfg := testConfig()
	conn := NewMockConn()
	// Truncated handshake response: too short to contain the fixed header.
	conn.ReadBuf.Write([]byte{0x01, 0x00, 0x00, 0x01, 0x00})

	var p *pool.Pool[*mysqlconn.Conn]
	session := NewSession(conn, cfg, p, 1)

	err := session.Handle()
	require.Error(t, err)
}
