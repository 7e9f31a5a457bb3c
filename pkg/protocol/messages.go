package protocol

import (
	"errors"
	"fmt"
)

// Kind identifies a message variant. The values double as the binary kind codes.
type Kind uint8

const (
	KindConfirm Kind = 0x00
	KindReply   Kind = 0x01
	KindAuth    Kind = 0x02
	KindJoin    Kind = 0x03
	KindText    Kind = 0x04
	KindError   Kind = 0xFE
	KindBye     Kind = 0xFF

	// KindInvalid is produced locally by the decoders and is never written to the wire.
	KindInvalid Kind = 0x99
)

func (k Kind) String() string {
	switch k {
	case KindConfirm:
		return "CONFIRM"
	case KindReply:
		return "REPLY"
	case KindAuth:
		return "AUTH"
	case KindJoin:
		return "JOIN"
	case KindText:
		return "MSG"
	case KindError:
		return "ERR"
	case KindBye:
		return "BYE"
	case KindInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("KIND(0x%02X)", uint8(k))
	}
}

// Result is the outcome carried by a Reply.
type Result uint8

const (
	ResultNok     Result = 0x00
	ResultOk      Result = 0x01
	ResultInvalid Result = 0x02
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "OK"
	case ResultNok:
		return "NOK"
	default:
		return "INVALID"
	}
}

// resultFromCode maps a wire result byte; anything but 0 and 1 is Invalid.
func resultFromCode(code uint8) Result {
	switch code {
	case 0x00:
		return ResultNok
	case 0x01:
		return ResultOk
	default:
		return ResultInvalid
	}
}

var (
	ErrNotEncodable     = errors.New("message cannot be encoded in this format")
	ErrReservedInField  = errors.New("field contains a reserved delimiter")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrUnterminatedText = errors.New("string field is not NUL-terminated")
)

// Message is the closed set of protocol messages. Only the variants declared in
// this package implement it.
type Message interface {
	// ID is the sender-assigned identifier. Text-format messages carry none and decode with ID 0.
	ID() uint16
	Kind() Kind
	message()
}

// Confirm acknowledges the message whose ID it carries (UDP only).
type Confirm struct {
	MsgID uint16
}

// Reply answers the Auth or Join request identified by RefMsgID.
type Reply struct {
	MsgID    uint16
	Result   Result
	RefMsgID uint16
	Content  string
}

type Auth struct {
	MsgID       uint16
	Username    string
	Secret      string
	DisplayName string
}

type Join struct {
	MsgID       uint16
	ChannelID   string
	DisplayName string
}

// Text is a chat message ("MSG" on the wire).
type Text struct {
	MsgID       uint16
	DisplayName string
	Content     string
}

// Error reports a fatal condition. DisplayName is empty when the error was
// synthesized locally rather than received.
type Error struct {
	MsgID       uint16
	DisplayName string
	Content     string
}

type Bye struct {
	MsgID uint16
}

// Invalid stands in for input that failed to decode or correlate. Content is a
// diagnostic for logs and the console.
type Invalid struct {
	MsgID   uint16
	Content string
}

func (m Confirm) ID() uint16 { return m.MsgID }
func (m Reply) ID() uint16   { return m.MsgID }
func (m Auth) ID() uint16    { return m.MsgID }
func (m Join) ID() uint16    { return m.MsgID }
func (m Text) ID() uint16    { return m.MsgID }
func (m Error) ID() uint16   { return m.MsgID }
func (m Bye) ID() uint16     { return m.MsgID }
func (m Invalid) ID() uint16 { return m.MsgID }

func (Confirm) Kind() Kind { return KindConfirm }
func (Reply) Kind() Kind   { return KindReply }
func (Auth) Kind() Kind    { return KindAuth }
func (Join) Kind() Kind    { return KindJoin }
func (Text) Kind() Kind    { return KindText }
func (Error) Kind() Kind   { return KindError }
func (Bye) Kind() Kind     { return KindBye }
func (Invalid) Kind() Kind { return KindInvalid }

func (Confirm) message() {}
func (Reply) message()   {}
func (Auth) message()    {}
func (Join) message()    {}
func (Text) message()    {}
func (Error) message()   {}
func (Bye) message()     {}
func (Invalid) message() {}

// ExpectsReply reports whether m opens a request that the server answers with a Reply.
func ExpectsReply(m Message) bool {
	switch m.(type) {
	case Auth, Join:
		return true
	default:
		return false
	}
}
