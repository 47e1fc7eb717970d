package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	frame, err := EncodeFrame(v)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return frame
}

func TestFrameDecoder_Sequence(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(mustEncode(t, &InfoFrame{Type: InfoType, ExtensionVersion: "100.0.0.0", ChromeVersion: "72.0.3626"}))
	stream.Write(mustEncode(t, &ConsoleFrame{Type: ConsoleType, Line: "auditing"}))
	stream.Write(mustEncode(t, &ResultFrame{Type: ResultType, JSON: []byte(`{"finalUrl":"https://a.test/"}`), HTML: []byte("<html>")}))

	d := NewFrameDecoder(&stream)

	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next #1: %v", err)
	}
	info, ok := f.(*InfoFrame)
	if !ok || info.ExtensionVersion != "100.0.0.0" || info.ChromeVersion != "72.0.3626" {
		t.Fatalf("frame #1 = %#v", f)
	}

	f, err = d.Next()
	if err != nil {
		t.Fatalf("Next #2: %v", err)
	}
	if c, ok := f.(*ConsoleFrame); !ok || c.Line != "auditing" {
		t.Fatalf("frame #2 = %#v", f)
	}

	f, err = d.Next()
	if err != nil {
		t.Fatalf("Next #3: %v", err)
	}
	res, ok := f.(*ResultFrame)
	if !ok || string(res.HTML) != "<html>" || !bytes.Contains(res.JSON, []byte("finalUrl")) {
		t.Fatalf("frame #3 = %#v", f)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameDecoder_PartialPrefix(t *testing.T) {
	d := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x01}))
	_, err := d.ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got %v", err)
	}
}

func TestFrameDecoder_PartialPayload(t *testing.T) {
	frame := mustEncode(t, &ConsoleFrame{Type: ConsoleType, Line: "truncated"})
	d := NewFrameDecoder(bytes.NewReader(frame[:len(frame)-3]))

	_, err := d.ReadFrame()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorPartial {
		t.Fatalf("expected partial frame error, got %v", err)
	}
}

func TestFrameDecoder_TooLarge(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)

	_, err := NewFrameDecoder(bytes.NewReader(prefix[:])).ReadFrame()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorTooLarge {
		t.Fatalf("expected too-large frame error, got %v", err)
	}
	if !fe.IsFatal() {
		t.Error("too-large frame should be fatal")
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"type": "screenshot"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecodeFrame(payload)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorUnknownType {
		t.Fatalf("expected unknown-type error, got %v", err)
	}
	if fe.IsFatal() {
		t.Error("unknown frame type should not be fatal")
	}
}

func TestDecodeFrame_Garbage(t *testing.T) {
	_, err := DecodeFrame([]byte{0xc1})
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestDecodeFrame_Error(t *testing.T) {
	payload := mustEncode(t, &ErrorFrame{Type: ErrorType, Message: "extension crashed"})
	f, err := DecodeFrame(payload[LengthPrefixSize:])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if e, ok := f.(*ErrorFrame); !ok || e.Message != "extension crashed" {
		t.Fatalf("frame = %#v", f)
	}
}
