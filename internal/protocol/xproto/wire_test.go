package xproto

import "testing"

func TestCursorFeedSingleFrame(t *testing.T) {
	frame := EncodeFrame(ClientConCapabilitiesGet, []byte("hello"))
	var c Cursor
	frames, err := c.Feed(frame, MaxHandshakeFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Type != ClientConCapabilitiesGet {
		t.Fatalf("type = %d", frames[0].Type)
	}
	if string(frames[0].Payload) != "hello" {
		t.Fatalf("payload = %q", frames[0].Payload)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestCursorFeedPartialThenRest(t *testing.T) {
	frame := EncodeFrame(ClientSessAuthenticateStart, []byte("payload-bytes"))
	var c Cursor

	frames, err := c.Feed(frame[:3], MaxHandshakeFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}

	frames, err = c.Feed(frame[3:], MaxHandshakeFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if string(frames[0].Payload) != "payload-bytes" {
		t.Fatalf("payload = %q", frames[0].Payload)
	}
}

func TestCursorFeedMultipleFramesAtOnce(t *testing.T) {
	a := EncodeFrame(ClientConCapabilitiesGet, []byte("a"))
	b := EncodeFrame(ClientConCapabilitiesGet, []byte("bb"))
	var c Cursor
	frames, err := c.Feed(append(a, b...), MaxHandshakeFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestCursorRejectsOversizedFrame(t *testing.T) {
	var c Cursor
	header := encodeLE32(1 + 100)
	if _, err := c.Feed(header, 10); err == nil {
		t.Fatal("expected an error for a frame exceeding the size limit")
	}
}
