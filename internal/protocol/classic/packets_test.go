package classic

import "testing"

func TestBuildErrorAndParseError(t *testing.T) {
	packet := BuildError(1045, "28000", "Access denied for user 'bob'@'host'")

	if len(packet) < HeaderSize {
		t.Fatalf("packet too short: %d bytes", len(packet))
	}
	h := parseHeader(packet[:HeaderSize])
	payload := packet[HeaderSize : HeaderSize+int(h.PayloadLen)]

	pe, ok := ParseError(payload)
	if !ok {
		t.Fatal("ParseError did not recognize the packet as an ERR packet")
	}
	if pe.Code != 1045 {
		t.Fatalf("code = %d, want 1045", pe.Code)
	}
	if pe.SQLState != "28000" {
		t.Fatalf("sql state = %q, want 28000", pe.SQLState)
	}
	if pe.Message != "Access denied for user 'bob'@'host'" {
		t.Fatalf("message = %q", pe.Message)
	}
}

func TestBuildErrorDefaultsInvalidSQLState(t *testing.T) {
	packet := BuildError(2003, "bad", "x")
	h := parseHeader(packet[:HeaderSize])
	payload := packet[HeaderSize : HeaderSize+int(h.PayloadLen)]
	pe, ok := ParseError(payload)
	if !ok || pe.SQLState != "HY000" {
		t.Fatalf("expected fallback HY000 sql state, got %+v ok=%v", pe, ok)
	}
}

func TestParseErrorRejectsNonErrorPayload(t *testing.T) {
	if _, ok := ParseError([]byte{0x00, 0x01, 0x02}); ok {
		t.Fatal("expected ok=false for a non-ERR payload")
	}
}

func TestBuildFakeHandshakeResponseShape(t *testing.T) {
	packet := BuildFakeHandshakeResponse()
	h := parseHeader(packet[:HeaderSize])
	if h.SeqID != 1 {
		t.Fatalf("seq id = %d, want 1", h.SeqID)
	}
	payload := packet[HeaderSize : HeaderSize+int(h.PayloadLen)]
	if len(payload) < 4 {
		t.Fatal("payload too short to contain capability flags")
	}
	caps := uint32(DecodeFixedLE(payload[:4], 4))
	if caps != defaultClientCapabilities {
		t.Fatalf("capabilities = %d, want %d", caps, defaultClientCapabilities)
	}
	if caps&ClientProtocol41 == 0 {
		t.Fatal("fake handshake response must advertise CLIENT_PROTOCOL_41")
	}
}
