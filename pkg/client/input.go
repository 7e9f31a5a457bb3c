package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

// ReadLines pumps r into the returned channel one line at a time, without
// the trailing LF or CRLF. The channel is closed at EOF, on a read error, or
// once ctx is done and the pending line could not be handed over.
func ReadLines(ctx context.Context, r io.Reader, logger *zap.Logger) <-chan string {
	if logger == nil {
		logger = zap.NewNop()
	}
	lines := make(chan string)

	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("reading input failed", zap.Error(err))
				}
				return
			}
		}
	}()

	return lines
}
