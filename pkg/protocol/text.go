package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// LineTerminator ends every text-format message.
const LineTerminator = "\r\n"

// Keywords are case-insensitive. Field lengths are not checked here, only
// character classes; see the Valid* helpers.
var (
	textPattern  = regexp.MustCompile(`(?i)^MSG FROM ([!-~]+) IS ([ -~]+)$`)
	errorPattern = regexp.MustCompile(`(?i)^ERR FROM ([!-~]+) IS ([ -~]+)$`)
	replyPattern = regexp.MustCompile(`(?i)^REPLY (OK|NOK) IS ([ -~]+)$`)
	authPattern  = regexp.MustCompile(`(?i)^AUTH ([A-Za-z0-9-]+) AS ([!-~]+) USING ([A-Za-z0-9-]+)$`)
	joinPattern  = regexp.MustCompile(`(?i)^JOIN ([A-Za-z0-9-]+) AS ([!-~]+)$`)
	byePattern   = regexp.MustCompile(`(?i)^BYE$`)
)

// EncodeText renders m as one CRLF-terminated line of the TCP grammar.
func EncodeText(m Message) (string, error) {
	var line string
	var fields []string

	switch m := m.(type) {
	case Reply:
		if m.Result == ResultInvalid {
			return "", fmt.Errorf("%w: REPLY with result %s", ErrNotEncodable, m.Result)
		}
		line = fmt.Sprintf("REPLY %s IS %s", m.Result, m.Content)
		fields = []string{m.Content}
	case Auth:
		line = fmt.Sprintf("AUTH %s AS %s USING %s", m.Username, m.DisplayName, m.Secret)
		fields = []string{m.Username, m.DisplayName, m.Secret}
	case Join:
		line = fmt.Sprintf("JOIN %s AS %s", m.ChannelID, m.DisplayName)
		fields = []string{m.ChannelID, m.DisplayName}
	case Text:
		line = fmt.Sprintf("MSG FROM %s IS %s", m.DisplayName, m.Content)
		fields = []string{m.DisplayName, m.Content}
	case Error:
		line = fmt.Sprintf("ERR FROM %s IS %s", m.DisplayName, m.Content)
		fields = []string{m.DisplayName, m.Content}
	case Bye:
		line = "BYE"
	case Confirm, Invalid:
		return "", fmt.Errorf("%w: %s", ErrNotEncodable, m.Kind())
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}

	for _, f := range fields {
		if strings.ContainsAny(f, "\r\n") {
			return "", ErrReservedInField
		}
	}
	return line + LineTerminator, nil
}

// DecodeText parses one line, with or without its CRLF terminator. It never
// fails: anything outside the grammar becomes an Invalid message.
func DecodeText(line string) Message {
	line = strings.TrimSuffix(line, LineTerminator)

	if g := textPattern.FindStringSubmatch(line); g != nil {
		return Text{DisplayName: g[1], Content: g[2]}
	}
	if g := replyPattern.FindStringSubmatch(line); g != nil {
		result := ResultNok
		if strings.EqualFold(g[1], "OK") {
			result = ResultOk
		}
		return Reply{Result: result, Content: g[2]}
	}
	if g := errorPattern.FindStringSubmatch(line); g != nil {
		return Error{DisplayName: g[1], Content: g[2]}
	}
	if g := authPattern.FindStringSubmatch(line); g != nil {
		return Auth{Username: g[1], DisplayName: g[2], Secret: g[3]}
	}
	if g := joinPattern.FindStringSubmatch(line); g != nil {
		return Join{ChannelID: g[1], DisplayName: g[2]}
	}
	if byePattern.MatchString(line) {
		return Bye{}
	}

	return Invalid{Content: fmt.Sprintf("malformed line %q", truncate(line, 64))}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
