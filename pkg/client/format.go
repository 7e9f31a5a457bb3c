package client

import (
	"fmt"
	"time"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

// Console line prefixes. The harness consuming the client matches on them.
const (
	PrefixSuccess       = "Success"
	PrefixFailure       = "Failure"
	PrefixLocalError    = "ERR"
	PrefixReceivedError = "ERR FROM"
)

// FormatText renders an incoming chat message for stdout.
func FormatText(m protocol.Text) string {
	return fmt.Sprintf("%s: %s", m.DisplayName, m.Content)
}

// ReplyPrefix returns "Success" for an Ok reply and "Failure" otherwise.
func ReplyPrefix(m protocol.Reply) string {
	if m.Result == protocol.ResultOk {
		return PrefixSuccess
	}
	return PrefixFailure
}

func FormatReply(m protocol.Reply) string {
	return fmt.Sprintf("%s: %s", ReplyPrefix(m), m.Content)
}

// FormatError renders an Error message. Locally synthesized errors carry no
// display name and get the plain "ERR:" prefix.
func FormatError(m protocol.Error) string {
	if m.DisplayName == "" {
		return fmt.Sprintf("%s: %s", PrefixLocalError, m.Content)
	}
	return fmt.Sprintf("%s %s: %s", PrefixReceivedError, m.DisplayName, m.Content)
}

// FormatRelativeTime formats a timestamp as "just now", "5m ago", "3h ago" or "2d ago".
func FormatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}

// FormatSession renders one connection log row for the history command.
func FormatSession(r SessionRecord) string {
	outcome := r.Outcome
	if r.EndedAt.IsZero() {
		outcome = "unfinished"
	}
	return fmt.Sprintf("%-9s %-4s %-22s as %-20s %s", FormatRelativeTime(r.StartedAt), r.Transport, r.Server, r.DisplayName, outcome)
}
