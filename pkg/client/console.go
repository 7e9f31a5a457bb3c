package client

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

// Console is the client's terminal surface: chat messages go to stdout,
// replies and errors to stderr. Safe for concurrent use by the session loops.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer

	okColor   *color.Color
	failColor *color.Color
	errColor  *color.Color
}

// NewConsole writes to out and errw. Prefix coloring follows fatih/color's
// terminal detection unless useColor is false.
func NewConsole(out, errw io.Writer, useColor bool) *Console {
	c := &Console{
		out:       out,
		err:       errw,
		okColor:   color.New(color.FgGreen),
		failColor: color.New(color.FgYellow),
		errColor:  color.New(color.FgRed, color.Bold),
	}
	if !useColor {
		c.okColor.DisableColor()
		c.failColor.DisableColor()
		c.errColor.DisableColor()
	}
	return c
}

func (c *Console) PrintText(m protocol.Text) {
	c.writeLine(c.out, FormatText(m))
}

func (c *Console) PrintReply(m protocol.Reply) {
	paint := c.failColor
	if m.Result == protocol.ResultOk {
		paint = c.okColor
	}
	c.writeLine(c.err, paintPrefix(FormatReply(m), ReplyPrefix(m), paint))
}

// PrintError prints an Error received from the server.
func (c *Console) PrintError(m protocol.Error) {
	prefix := PrefixReceivedError
	if m.DisplayName == "" {
		prefix = PrefixLocalError
	}
	c.writeLine(c.err, paintPrefix(FormatError(m), prefix, c.errColor))
}

// PrintLocalError prints an error the client produced itself.
func (c *Console) PrintLocalError(msg string) {
	c.PrintError(protocol.Error{Content: msg})
}

// PrintHelp writes the command table to stdout.
func (c *Console) PrintHelp() {
	c.writeLine(c.out, strings.TrimRight(RenderHelp(), "\n"))
}

// paintPrefix colors the leading prefix of line.
func paintPrefix(line, prefix string, paint *color.Color) string {
	return paint.Sprint(prefix) + strings.TrimPrefix(line, prefix)
}

func (c *Console) writeLine(w io.Writer, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, line)
}
