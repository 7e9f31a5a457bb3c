package client

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

func TestConsoleFormats(t *testing.T) {
	var out, errOut bytes.Buffer
	c := NewConsole(&out, &errOut, false)

	c.PrintText(protocol.Text{DisplayName: "bob", Content: "hi all"})
	c.PrintReply(protocol.Reply{Result: protocol.ResultOk, Content: "joined"})
	c.PrintReply(protocol.Reply{Result: protocol.ResultNok, Content: "denied"})
	c.PrintError(protocol.Error{DisplayName: "Server", Content: "bad"})
	c.PrintError(protocol.Error{Content: "local"})
	c.PrintLocalError("oops")

	assert.Equal(t, "bob: hi all\n", out.String())
	assert.Equal(t, strings.Join([]string{
		"Success: joined",
		"Failure: denied",
		"ERR FROM Server: bad",
		"ERR: local",
		"ERR: oops",
		"",
	}, "\n"), errOut.String())
}

func TestConsoleColorsOnlyThePrefix(t *testing.T) {
	var errOut bytes.Buffer
	c := NewConsole(&bytes.Buffer{}, &errOut, true)
	c.okColor.EnableColor()

	reply := protocol.Reply{Result: protocol.ResultOk, Content: "welcome"}
	c.PrintReply(reply)

	line := errOut.String()
	assert.True(t, strings.HasPrefix(line, "\x1b[32m"+PrefixSuccess), "got %q", line)
	assert.True(t, strings.HasSuffix(line, strings.TrimPrefix(FormatReply(reply), PrefixSuccess)+"\n"), "got %q", line)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "a: b", FormatText(protocol.Text{DisplayName: "a", Content: "b"}))
	assert.Equal(t, "Success: ok", FormatReply(protocol.Reply{Result: protocol.ResultOk, Content: "ok"}))
	assert.Equal(t, "Failure: no", FormatReply(protocol.Reply{Result: protocol.ResultNok, Content: "no"}))
	assert.Equal(t, "ERR FROM x: y", FormatError(protocol.Error{DisplayName: "x", Content: "y"}))
	assert.Equal(t, "ERR: y", FormatError(protocol.Error{Content: "y"}))
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", FormatRelativeTime(now))
	assert.Equal(t, "5m ago", FormatRelativeTime(now.Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", FormatRelativeTime(now.Add(-3*time.Hour-time.Second)))
	assert.Equal(t, "2d ago", FormatRelativeTime(now.Add(-49*time.Hour)))
}

func TestRenderHelpListsEveryCommand(t *testing.T) {
	help := RenderHelp()
	for _, e := range helpEntries {
		assert.Contains(t, help, e.usage)
		assert.Contains(t, help, e.desc)
	}
}

func TestReadLines(t *testing.T) {
	lines := ReadLines(context.Background(), strings.NewReader("/auth a b c\r\nhello\n\nlast"), nil)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"/auth a b c", "hello", "", "last"}, got)
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	lines := ReadLines(ctx, pr, nil)

	go pw.Write([]byte("one\ntwo\n"))
	require.Equal(t, "one", <-lines)

	cancel()
	pw.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
