package classic

import "testing"

func TestAdapterCompletesOnSeq2(t *testing.T) {
	a := NewAdapter()
	if err := a.Feed(FromServer, nil, 0); err != nil {
		t.Fatal(err)
	}
	if a.Done() {
		t.Fatal("should not be done after the server greeting alone")
	}

	resp := BuildFakeHandshakeResponse()
	h := parseHeader(resp[:HeaderSize])
	payload := resp[HeaderSize : HeaderSize+int(h.PayloadLen)]
	if err := a.Feed(FromClient, payload, 1); err != nil {
		t.Fatal(err)
	}
	if a.Done() {
		t.Fatal("should not be done after just the client auth packet")
	}

	if err := a.Feed(FromServer, nil, 2); err != nil {
		t.Fatal(err)
	}
	if !a.Done() {
		t.Fatal("expected handshake done once a packet with seq id >= 2 is observed")
	}
}

func TestAdapterShortCircuitsOnServerError(t *testing.T) {
	a := NewAdapter()
	a.Feed(FromServer, nil, 0)

	errPacket := BuildError(1045, "28000", "denied")
	h := parseHeader(errPacket[:HeaderSize])
	payload := errPacket[HeaderSize : HeaderSize+int(h.PayloadLen)]

	if err := a.Feed(FromServer, payload, 1); err != nil {
		t.Fatal(err)
	}
	if !a.Done() {
		t.Fatal("a server ERR packet must end the handshake immediately")
	}
}

func TestAdapterDetectsSSLRequest(t *testing.T) {
	a := NewAdapter()
	a.Feed(FromServer, nil, 0)

	payload := EncodeFixedLE(uint64(defaultClientCapabilities|ClientSSL), 4)
	if err := a.Feed(FromClient, payload, 1); err != nil {
		t.Fatal(err)
	}
	if !a.SSLRequested() {
		t.Fatal("expected CLIENT_SSL to be detected from the capability flags")
	}
}

func TestAdapterRejectsTruncatedCapabilities(t *testing.T) {
	a := NewAdapter()
	a.Feed(FromServer, nil, 0)
	if err := a.Feed(FromClient, []byte{0x01, 0x02}, 1); err == nil {
		t.Fatal("expected an error for a truncated capability field")
	}
}

func TestAdapterRejectsOutOfSequencePacket(t *testing.T) {
	a := NewAdapter()
	if err := a.Feed(FromServer, nil, 0); err != nil {
		t.Fatal(err)
	}

	resp := BuildFakeHandshakeResponse()
	h := parseHeader(resp[:HeaderSize])
	payload := resp[HeaderSize : HeaderSize+int(h.PayloadLen)]

	// The client's reply should carry sequence id 1; sending 5 instead
	// must abort the handshake rather than be treated as "done" just
	// because it's >= 2.
	err := a.Feed(FromClient, payload, 5)
	if err == nil {
		t.Fatal("expected an error for an out-of-sequence packet")
	}
	if a.Done() {
		t.Fatal("an out-of-sequence packet must not be treated as handshake completion")
	}
}

func TestAdapterResetReturnsToInitialState(t *testing.T) {
	a := NewAdapter()
	a.Feed(FromServer, nil, 2)
	if !a.Done() {
		t.Fatal("expected done")
	}
	a.Reset()
	if a.Done() {
		t.Fatal("expected Reset to clear done")
	}
}
