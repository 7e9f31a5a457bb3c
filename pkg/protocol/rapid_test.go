package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

var (
	identGen   = rapid.StringMatching(`[A-Za-z0-9-]{1,20}`)
	secretGen  = rapid.StringMatching(`[A-Za-z0-9-]{1,128}`)
	displayGen = rapid.StringMatching(`[!-~]{1,20}`)
	contentGen = rapid.StringMatching(`[ -~]{1,200}`)
)

// wireMessage draws any message that the binary encoder accepts.
func wireMessage(t *rapid.T) Message {
	id := rapid.Uint16().Draw(t, "id")
	switch rapid.IntRange(0, 6).Draw(t, "kind") {
	case 0:
		return Confirm{MsgID: id}
	case 1:
		return Reply{
			MsgID:    id,
			Result:   rapid.SampledFrom([]Result{ResultOk, ResultNok}).Draw(t, "result"),
			RefMsgID: rapid.Uint16().Draw(t, "ref"),
			Content:  contentGen.Draw(t, "content"),
		}
	case 2:
		return Auth{
			MsgID:       id,
			Username:    identGen.Draw(t, "username"),
			Secret:      secretGen.Draw(t, "secret"),
			DisplayName: displayGen.Draw(t, "display"),
		}
	case 3:
		return Join{MsgID: id, ChannelID: identGen.Draw(t, "channel"), DisplayName: displayGen.Draw(t, "display")}
	case 4:
		return Text{MsgID: id, DisplayName: displayGen.Draw(t, "display"), Content: contentGen.Draw(t, "content")}
	case 5:
		return Error{MsgID: id, DisplayName: displayGen.Draw(t, "display"), Content: contentGen.Draw(t, "content")}
	default:
		return Bye{MsgID: id}
	}
}

// TestBinaryRoundTrip tests that every encodable message survives the datagram layout
func TestBinaryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := wireMessage(t)

		data, err := EncodeBinary(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if len(data) < HeaderSize {
			t.Fatalf("encoded %d bytes, want at least %d", len(data), HeaderSize)
		}

		decoded := DecodeBinary(data)
		if diff := cmp.Diff(original, decoded); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}

// TestTextRoundTrip tests that every message expressible in the line grammar parses back
func TestTextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := wireMessage(t)
		if _, ok := original.(Confirm); ok {
			return // no text form
		}
		original = withoutID(original)

		line, err := EncodeText(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if !strings.HasSuffix(line, LineTerminator) {
			t.Fatalf("line %q is not CRLF-terminated", line)
		}

		decoded := DecodeText(line)
		if diff := cmp.Diff(original, decoded); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}

// TestStringRoundTrip tests that any NUL-free string can be encoded and decoded
func TestStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := rapid.String().Filter(func(s string) bool {
			return strings.IndexByte(s, 0) < 0
		}).Draw(t, "string")

		var buf bytes.Buffer
		if err := WriteString(&buf, original); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := ReadString(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded != original {
			t.Fatalf("string mismatch: got %q, want %q", decoded, original)
		}
	})
}

// TestDecodeBinaryTotal tests that arbitrary datagrams always decode to some message
func TestDecodeBinaryTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")

		msg := DecodeBinary(data)
		if msg == nil {
			t.Fatalf("nil message for %x", data)
		}
		if len(data) >= HeaderSize {
			want := uint16(data[1])<<8 | uint16(data[2])
			if msg.ID() != want {
				t.Fatalf("id = %d, want %d", msg.ID(), want)
			}
		}
	})
}

// withoutID zeroes the identifiers that the line grammar does not carry.
func withoutID(m Message) Message {
	switch m := m.(type) {
	case Reply:
		m.MsgID, m.RefMsgID = 0, 0
		return m
	case Auth:
		m.MsgID = 0
		return m
	case Join:
		m.MsgID = 0
		return m
	case Text:
		m.MsgID = 0
		return m
	case Error:
		m.MsgID = 0
		return m
	case Bye:
		return Bye{}
	default:
		return m
	}
}
