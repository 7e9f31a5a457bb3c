package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadUint8(t *testing.T) {
	tests := []struct {
		name  string
		value uint8
	}{
		{"zero", 0},
		{"one", 1},
		{"max", 255},
		{"mid", 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			err := WriteUint8(buf, tt.value)
			require.NoError(t, err)

			result, err := ReadUint8(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestWriteReadUint16(t *testing.T) {
	tests := []struct {
		name  string
		value uint16
		wire  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00}},
		{"one", 1, []byte{0x00, 0x01}},
		{"max", 65535, []byte{0xFF, 0xFF}},
		{"big-endian", 0x1234, []byte{0x12, 0x34}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			require.NoError(t, WriteUint16(buf, tt.value))
			assert.Equal(t, tt.wire, buf.Bytes())

			result, err := ReadUint16(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestReadUint16Short(t *testing.T) {
	_, err := ReadUint16(bytes.NewReader([]byte{0x01}))
	assert.Error(t, err)
}

func TestWriteReadString(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"ascii", "hello"},
		{"utf8", "příliš žluťoučký"},
		{"spaces", "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			require.NoError(t, WriteString(buf, tt.value))
			assert.Equal(t, byte(0), buf.Bytes()[buf.Len()-1], "string must be NUL-terminated")

			result, err := ReadString(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, result)
		})
	}
}

func TestWriteStringRejectsNul(t *testing.T) {
	err := WriteString(new(bytes.Buffer), "a\x00b")
	assert.ErrorIs(t, err, ErrReservedInField)
}

func TestReadStringUnterminated(t *testing.T) {
	_, err := ReadString(bytes.NewReader([]byte("abc")))
	assert.ErrorIs(t, err, ErrUnterminatedText)
}

func TestReadStringStopsAtFirstNul(t *testing.T) {
	r := bytes.NewReader([]byte("one\x00two\x00"))

	first, err := ReadString(r)
	require.NoError(t, err)
	second, err := ReadString(r)
	require.NoError(t, err)

	assert.Equal(t, "one", first)
	assert.Equal(t, "two", second)
	assert.Equal(t, 0, r.Len())
}
