package protocol

import (
	"bytes"
	"testing"
)

// FuzzDecodeBinary fuzzes the datagram decoder with random bytes
func FuzzDecodeBinary(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x01})
	f.Add([]byte{0x01, 0x00, 0x01, 0x01, 0x00, 0x01, 'o', 'k', 0x00})
	f.Add([]byte{0x04, 0x00, 0x02, 'b', 'o', 'b', 0x00, 'h', 'i', 0x00})
	f.Add([]byte{0xFF})

	valid, _ := EncodeBinary(Auth{MsgID: 1, Username: "user", DisplayName: "User", Secret: "s3cret"})
	f.Add(valid)

	f.Fuzz(func(t *testing.T, data []byte) {
		msg := DecodeBinary(data)
		if msg == nil {
			t.Fatal("decoder returned nil")
		}

		// Anything that decoded to a wire message must re-encode to the same bytes.
		if _, ok := msg.(Invalid); ok {
			return
		}
		out, err := EncodeBinary(msg)
		if err != nil {
			t.Fatalf("re-encode of %#v failed: %v", msg, err)
		}
		if !bytes.Equal(out, data) {
			// Reply result codes above 1 collapse to Invalid and cannot round trip.
			if r, ok := msg.(Reply); ok && r.Result == ResultInvalid {
				return
			}
			t.Fatalf("re-encode mismatch: got %x, want %x", out, data)
		}
	})
}

// FuzzDecodeText fuzzes the line parser
func FuzzDecodeText(f *testing.F) {
	f.Add("MSG FROM bob IS hello\r\n")
	f.Add("REPLY OK IS joined")
	f.Add("err from x is y")
	f.Add("BYE")
	f.Add("\r\n")

	f.Fuzz(func(t *testing.T, line string) {
		msg := DecodeText(line)
		if msg == nil {
			t.Fatal("decoder returned nil")
		}
		if msg.ID() != 0 {
			t.Fatalf("text message carries id %d", msg.ID())
		}
	})
}

// FuzzReadString fuzzes the string decoder
func FuzzReadString(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{'h', 'e', 'l', 'l', 'o', 0x00})
	f.Add([]byte{'n', 'o', 'n', 'u', 'l'})

	f.Fuzz(func(t *testing.T, data []byte) {
		str, err := ReadString(bytes.NewReader(data))
		if err == nil && bytes.IndexByte(data, 0) != len(str) {
			t.Fatalf("read %d bytes, first NUL at %d", len(str), bytes.IndexByte(data, 0))
		}
	})
}
