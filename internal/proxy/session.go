package proxy

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	"github.com/kafitramarna/TransisiDB/internal/config"
	"github.com/kafitramarna/TransisiDB/internal/logger"
	"github.com/kafitramarna/TransisiDB/internal/mysqlconn"
	"github.com/kafitramarna/TransisiDB/internal/parser"
	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/kafitramarna/TransisiDB/pkg/protocol"
)

// Session speaks the MySQL wire protocol to one client. Unlike the
// original pass-through design, it never dials its own dedicated backend:
// the handshake is answered directly by the proxy, and every query
// borrows a pool.Handle scoped to the database the query targets
// (SPEC_FULL §4.8), so many client sessions share the pool's bounded set
// of backend connections instead of each pinning one for its lifetime.
type Session struct {
	clientConn net.Conn
	config     *config.Config
	pool       *pool.Pool[*mysqlconn.Conn]
	parser     *parser.Parser

	connID   uint32
	database string
	inTx     bool
}

// NewSession creates a session bound to a client connection and the
// shared adaptive pool. connID is this session's MySQL connection id, as
// reported in the handshake packet and in query-kill semantics.
func NewSession(conn net.Conn, cfg *config.Config, p *pool.Pool[*mysqlconn.Conn], connID uint32) *Session {
	return &Session{
		clientConn: conn,
		config:     cfg,
		pool:       p,
		parser:     parser.NewParser(cfg.Tables),
		database:   cfg.Database.Database,
		connID:     connID,
	}
}

// Handle answers the handshake and then serves commands until the client
// disconnects or an unrecoverable protocol error occurs.
func (s *Session) Handle() error {
	logger.Info("new connection", "remote_addr", s.clientConn.RemoteAddr().String())
	defer s.clientConn.Close()

	if err := s.handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	return s.handleCommands()
}

// handshake emits the proxy's own HandshakeV10, as spec.md describes for
// the pool's "host runtime": this proxy answers authentication itself
// rather than relaying a live backend handshake, which is what lets every
// subsequent query route to a different pooled backend connection. The
// client's credentials are checked against the configured proxy user;
// verifying the scrambled password against a stored hash is out of scope
// for this internal-network proxy.
func (s *Session) handshake() error {
	hs := protocol.NewHandshakeV10(s.connID)
	if err := protocol.WritePacket(s.clientConn, 0, hs.Encode()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	respPkt, err := protocol.ReadPacket(s.clientConn)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	resp, err := protocol.DecodeHandshakeResponse41(respPkt.Payload)
	if err != nil {
		s.writeErr(respPkt.SequenceID+1, fmt.Sprintf("malformed handshake response: %v", err))
		return err
	}

	if resp.Username != s.config.Database.User {
		s.writeErr(respPkt.SequenceID+1, "access denied")
		return fmt.Errorf("unrecognized user %q", resp.Username)
	}

	if resp.Database != "" {
		s.database = resp.Database
	}

	if err := protocol.WritePacket(s.clientConn, respPkt.SequenceID+1, protocol.EncodeOKPacket(protocol.OKPacket{StatusFlags: 2})); err != nil {
		return fmt.Errorf("write handshake OK: %w", err)
	}

	logger.Info("handshake completed", "conn_id", s.connID, "user", resp.Username, "database", s.database)
	return nil
}

func (s *Session) handleCommands() error {
	for {
		cmdPkt, err := protocol.ReadPacket(s.clientConn)
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}
		if len(cmdPkt.Payload) == 0 {
			continue
		}

		cmd := cmdPkt.Payload[0]
		logger.Debug("received command", "command", protocol.GetCommandName(cmd), "conn_id", s.connID)

		switch cmd {
		case protocol.COM_QUIT:
			logger.Info("client disconnected", "conn_id", s.connID)
			return nil

		case protocol.COM_PING:
			if err := s.writeOK(cmdPkt.SequenceID + 1); err != nil {
				return err
			}

		case protocol.COM_INIT_DB:
			if len(cmdPkt.Payload) > 1 {
				s.database = string(cmdPkt.Payload[1:])
				logger.Info("database changed", "database", s.database, "conn_id", s.connID)
			}
			if err := s.writeOK(cmdPkt.SequenceID + 1); err != nil {
				return err
			}

		case protocol.COM_QUERY:
			if err := s.handleQuery(cmdPkt); err != nil {
				return err
			}

		default:
			s.writeErr(cmdPkt.SequenceID+1, fmt.Sprintf("unsupported command: %s", protocol.GetCommandName(cmd)))
		}
	}
}

// handleQuery parses the query only far enough to route it (table name ->
// logical database), then borrows a pool connection scoped to that
// database for the duration of the round trip.
func (s *Session) handleQuery(cmdPkt *protocol.Packet) error {
	query := string(cmdPkt.Payload[1:])
	logger.Info("query", "query", query, "conn_id", s.connID)

	switch protocol.IsTransactionCommand(query) {
	case true:
		s.inTx = query != "COMMIT" && query != "ROLLBACK"
	}

	pq, err := s.parser.Parse(query)
	db := s.database
	if err == nil {
		db = s.parser.ResolveDatabase(pq, s.database)
	} else {
		logger.Warn("failed to parse query, routing to session default database", "error", err, "query", query)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Proxy.ReadTimeout)
	defer cancel()

	handle, acquireErr := s.pool.Acquire(ctx, db)
	if acquireErr != nil {
		s.writeErr(cmdPkt.SequenceID+1, fmt.Sprintf("no backend available for %q: %v", db, acquireErr))
		return nil
	}
	defer handle.Release()

	var execErr error
	seq := cmdPkt.SequenceID + 1
	handle.WithHandle(func(conn *mysqlconn.Conn) {
		if pq != nil && pq.Type.IsMutation() {
			execErr = s.relayExec(conn, query, &seq)
		} else {
			execErr = s.relayQuery(ctx, conn, query, &seq)
		}
	})
	if execErr != nil {
		handle.Poison()
		s.writeErr(seq, fmt.Sprintf("query failed: %v", execErr))
	}
	return nil
}

func (s *Session) relayExec(conn *mysqlconn.Conn, query string, seq *uint8) error {
	res, err := conn.Raw().ExecContext(context.Background(), query)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	var lastIDUnsigned uint64
	if lastID > 0 {
		lastIDUnsigned = uint64(lastID)
	}
	ok := protocol.OKPacket{AffectedRows: uint64(affected), LastInsertID: lastIDUnsigned, StatusFlags: 2}
	if err := protocol.WritePacket(s.clientConn, *seq, protocol.EncodeOKPacket(ok)); err != nil {
		return err
	}
	*seq++
	return nil
}

// relayQuery executes a read query and encodes a minimal text-protocol
// result set back to the client: a column-count packet, one
// column-definition packet per column (always reported as VAR_STRING),
// an EOF delimiter, one row packet per result row, and a final EOF.
func (s *Session) relayQuery(ctx context.Context, conn *mysqlconn.Conn, query string, seq *uint8) error {
	rows, err := conn.Raw().QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	if err := protocol.WritePacket(s.clientConn, *seq, protocol.WriteLengthEncodedInt(nil, uint64(len(cols)))); err != nil {
		return err
	}
	*seq++

	for _, name := range cols {
		if err := protocol.WritePacket(s.clientConn, *seq, protocol.EncodeColumnDefinition41(protocol.ColumnDefinition41{Name: name})); err != nil {
			return err
		}
		*seq++
	}
	if err := protocol.WritePacket(s.clientConn, *seq, protocol.EncodeEOFPacket(protocol.EOFPacket{StatusFlags: 2})); err != nil {
		return err
	}
	*seq++

	values := make([]sql.NullString, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		var row []byte
		for _, v := range values {
			if v.Valid {
				row = protocol.WriteLengthEncodedString(row, v.String)
			} else {
				row = append(row, 0xfb) // NULL marker
			}
		}
		if err := protocol.WritePacket(s.clientConn, *seq, row); err != nil {
			return err
		}
		*seq++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return protocol.WritePacket(s.clientConn, *seq, protocol.EncodeEOFPacket(protocol.EOFPacket{StatusFlags: 2}))
}

func (s *Session) writeOK(seq uint8) error {
	return protocol.WritePacket(s.clientConn, seq, protocol.EncodeOKPacket(protocol.OKPacket{StatusFlags: 2}))
}

func (s *Session) writeErr(seq uint8, msg string) {
	if err := protocol.WritePacket(s.clientConn, seq, protocol.EncodeERRPacket(protocol.ERRPacket{ErrorCode: 1105, ErrorMessage: msg})); err != nil {
		logger.Warn("failed to write error packet to client", "error", err, "conn_id", s.connID)
	}
}
