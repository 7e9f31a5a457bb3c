package protocol

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

// HeaderSize is the length of the kind code plus the message ID.
const HeaderSize = 3

// EncodeBinary encodes m in the UDP datagram layout:
// [Kind (1 byte)][ID (2 bytes, big-endian)][kind-specific fields]
func EncodeBinary(m Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := EncodeBinaryTo(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeBinaryTo writes the binary form of m to w
func EncodeBinaryTo(w io.Writer, m Message) error {
	switch m := m.(type) {
	case Confirm:
		return writeHeader(w, KindConfirm, m.MsgID)

	case Reply:
		if err := writeHeader(w, KindReply, m.MsgID); err != nil {
			return err
		}
		if err := WriteUint8(w, uint8(m.Result)); err != nil {
			return err
		}
		if err := WriteUint16(w, m.RefMsgID); err != nil {
			return err
		}
		return WriteString(w, m.Content)

	case Auth:
		if err := writeHeader(w, KindAuth, m.MsgID); err != nil {
			return err
		}
		return writeStrings(w, m.Username, m.DisplayName, m.Secret)

	case Join:
		if err := writeHeader(w, KindJoin, m.MsgID); err != nil {
			return err
		}
		return writeStrings(w, m.ChannelID, m.DisplayName)

	case Text:
		if err := writeHeader(w, KindText, m.MsgID); err != nil {
			return err
		}
		return writeStrings(w, m.DisplayName, m.Content)

	case Error:
		if err := writeHeader(w, KindError, m.MsgID); err != nil {
			return err
		}
		return writeStrings(w, m.DisplayName, m.Content)

	case Bye:
		return writeHeader(w, KindBye, m.MsgID)

	case Invalid:
		return fmt.Errorf("%w: %s", ErrNotEncodable, KindInvalid)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

func writeHeader(w io.Writer, kind Kind, id uint16) error {
	if err := WriteUint8(w, uint8(kind)); err != nil {
		return err
	}
	return WriteUint16(w, id)
}

func writeStrings(w io.Writer, fields ...string) error {
	for _, f := range fields {
		if err := WriteString(w, f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBinary decodes one datagram. It never fails: malformed input yields an
// Invalid message carrying a diagnostic and, when the header was readable, the ID.
func DecodeBinary(data []byte) Message {
	if len(data) < HeaderSize {
		return Invalid{Content: fmt.Sprintf("datagram too short (%d bytes)", len(data))}
	}

	kind := Kind(data[0])
	r := bytes.NewReader(data[1:])
	id, _ := ReadUint16(r)

	invalid := func(format string, args ...interface{}) Message {
		return Invalid{MsgID: id, Content: fmt.Sprintf("%s: %s", kind, fmt.Sprintf(format, args...))}
	}

	switch kind {
	case KindConfirm, KindBye:
		if r.Len() != 0 {
			return invalid("unexpected %d trailing bytes", r.Len())
		}
		if kind == KindConfirm {
			return Confirm{MsgID: id}
		}
		return Bye{MsgID: id}

	case KindReply:
		code, err := ReadUint8(r)
		if err != nil {
			return invalid("missing result")
		}
		ref, err := ReadUint16(r)
		if err != nil {
			return invalid("missing reference id")
		}
		fields, err := readStrings(r, 1)
		if err != nil {
			return invalid("%v", err)
		}
		return Reply{MsgID: id, Result: resultFromCode(code), RefMsgID: ref, Content: fields[0]}

	case KindAuth:
		fields, err := readStrings(r, 3)
		if err != nil {
			return invalid("%v", err)
		}
		return Auth{MsgID: id, Username: fields[0], DisplayName: fields[1], Secret: fields[2]}

	case KindJoin:
		fields, err := readStrings(r, 2)
		if err != nil {
			return invalid("%v", err)
		}
		return Join{MsgID: id, ChannelID: fields[0], DisplayName: fields[1]}

	case KindText:
		fields, err := readStrings(r, 2)
		if err != nil {
			return invalid("%v", err)
		}
		return Text{MsgID: id, DisplayName: fields[0], Content: fields[1]}

	case KindError:
		fields, err := readStrings(r, 2)
		if err != nil {
			return invalid("%v", err)
		}
		return Error{MsgID: id, DisplayName: fields[0], Content: fields[1]}

	default:
		return Invalid{MsgID: id, Content: fmt.Sprintf("unknown message code 0x%02X", data[0])}
	}
}

// readStrings reads exactly n NUL-terminated UTF-8 fields that must consume the rest of r.
func readStrings(r *bytes.Reader, n int) ([]string, error) {
	fields := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("field %d: invalid UTF-8", i+1)
		}
		fields = append(fields, s)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("unexpected %d trailing bytes", r.Len())
	}
	return fields, nil
}
