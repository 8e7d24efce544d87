package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Client capability flags relevant to decoding a HandshakeResponse41 (the
// subset this proxy needs to interpret, not the full MySQL flag set).
const (
	capClientConnectWithDB            = 0x00000008
	capClientSecureConnection         = 0x00008000
	capClientPluginAuth               = 0x00080000
	capClientPluginAuthLenencClientData = 0x00200000
)

// HandshakeV10 represents the initial handshake packet from server to client
type HandshakeV10 struct {
	ProtocolVersion uint8
	ServerVersion   string
	ConnectionID    uint32
	AuthPluginData  []byte
	CapabilityFlags uint32
	CharacterSet    uint8
	StatusFlags     uint16
	AuthPluginName  string
}

// NewHandshakeV10 creates a new default handshake packet
func NewHandshakeV10(connectionID uint32) *HandshakeV10 {
	// Generate random salt
	salt := make([]byte, 20)
	rand.Read(salt)

	return &HandshakeV10{
		ProtocolVersion: 10,
		ServerVersion:   "8.0.30-TransisiDB",
		ConnectionID:    connectionID,
		AuthPluginData:  salt,
		CapabilityFlags: 65535, // Support everything for now
		CharacterSet:    45,    // utf8mb4_general_ci
		StatusFlags:     2,     // SERVER_AUTOCOMMIT
		AuthPluginName:  "mysql_native_password",
	}
}

// Encode serializes the handshake packet
func (h *HandshakeV10) Encode() []byte {
	var buf []byte

	buf = append(buf, h.ProtocolVersion)
	buf = WriteString(buf, h.ServerVersion)
	buf = WriteUint32(buf, h.ConnectionID)

	// Auth Plugin Data Part 1 (8 bytes)
	buf = append(buf, h.AuthPluginData[:8]...)
	buf = append(buf, 0x00) // Filler

	// Capability Flags Lower 2 bytes
	buf = WriteUint16(buf, uint16(h.CapabilityFlags))

	buf = append(buf, h.CharacterSet)
	buf = WriteUint16(buf, h.StatusFlags)

	// Capability Flags Upper 2 bytes
	buf = WriteUint16(buf, uint16(h.CapabilityFlags>>16))

	// Auth Plugin Data Length
	buf = append(buf, 21) // Length of auth plugin data (8 + 12 + 1)

	// Reserved (10 bytes)
	buf = append(buf, make([]byte, 10)...)

	// Auth Plugin Data Part 2 (12 bytes)
	buf = append(buf, h.AuthPluginData[8:20]...)
	buf = append(buf, 0x00) // Null terminator for auth plugin data

	// Auth Plugin Name
	buf = WriteString(buf, h.AuthPluginName)

	return buf
}

// HandshakeResponse41 represents the client's response to handshake
type HandshakeResponse41 struct {
	CapabilityFlags uint32
	MaxPacketSize   uint32
	CharacterSet    uint8
	Username        string
	AuthResponse    []byte
	Database        string
	AuthPluginName  string
}

// DecodeHandshakeResponse41 parses the client's handshake response packet,
// following whichever of the three auth-response encodings (length-encoded,
// 1-byte-length, or null-terminated) the client's own capability flags
// declare.
func DecodeHandshakeResponse41(payload []byte) (*HandshakeResponse41, error) {
	if len(payload) < 32 {
		return nil, fmt.Errorf("handshake response too short: %d bytes", len(payload))
	}

	capabilityFlags := binary.LittleEndian.Uint32(payload[0:4])
	maxPacketSize := binary.LittleEndian.Uint32(payload[4:8])
	charset := payload[8]

	pos := 32 // 4 + 4 + 1 + 23 reserved bytes
	username, n := readNullTerminatedString(payload[pos:])
	pos += n

	var authResponse []byte
	switch {
	case capabilityFlags&capClientPluginAuthLenencClientData != 0:
		authLen, ln := readLengthEncodedInt(payload[pos:])
		pos += ln
		end := pos + int(authLen)
		if end > len(payload) {
			return nil, fmt.Errorf("auth response overruns packet")
		}
		authResponse = payload[pos:end]
		pos = end
	case capabilityFlags&capClientSecureConnection != 0:
		if pos >= len(payload) {
			return nil, fmt.Errorf("missing auth response length")
		}
		authLen := int(payload[pos])
		pos++
		end := pos + authLen
		if end > len(payload) {
			return nil, fmt.Errorf("auth response overruns packet")
		}
		authResponse = payload[pos:end]
		pos = end
	default:
		authStr, ln := readNullTerminatedString(payload[pos:])
		authResponse = []byte(authStr)
		pos += ln
	}

	var database string
	if capabilityFlags&capClientConnectWithDB != 0 && pos < len(payload) {
		database, n = readNullTerminatedString(payload[pos:])
		pos += n
	}

	var authPluginName string
	if capabilityFlags&capClientPluginAuth != 0 && pos < len(payload) {
		authPluginName, _ = readNullTerminatedString(payload[pos:])
	}

	return &HandshakeResponse41{
		CapabilityFlags: capabilityFlags,
		MaxPacketSize:   maxPacketSize,
		CharacterSet:    charset,
		Username:        username,
		AuthResponse:    authResponse,
		Database:        database,
		AuthPluginName:  authPluginName,
	}, nil
}

func readNullTerminatedString(b []byte) (string, int) {
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return string(b), len(b)
	}
	return string(b[:idx]), idx + 1
}
