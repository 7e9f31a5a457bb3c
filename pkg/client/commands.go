package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

var (
	ErrUnknownCommand       = errors.New("unknown command")
	ErrNotAuthenticated     = errors.New("you must authenticate with /auth first")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
)

// UsageError reports malformed arguments to a known command. The console
// follows it with the help table.
type UsageError struct {
	Command string
	Err     error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("/%s: %v", e.Command, e.Err)
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// ShowsHelp reports whether err should be followed by the help table.
func ShowsHelp(err error) bool {
	var usage *UsageError
	return errors.As(err, &usage) || errors.Is(err, ErrUnknownCommand)
}

// CommandProcessor turns one line of user input into an outgoing message or
// a local side effect.
type CommandProcessor struct {
	identity *Identity
	ids      *IDCounter
	console  *Console
}

func NewCommandProcessor(identity *Identity, ids *IDCounter, console *Console) *CommandProcessor {
	return &CommandProcessor{identity: identity, ids: ids, console: console}
}

// Process handles line in the given session state. It returns the message to
// send, or nil when the line was empty or handled locally. Errors are local
// and leave the session state untouched.
func (p *CommandProcessor) Process(line string, state SessionState) (protocol.Message, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	if !strings.HasPrefix(line, "/") {
		return p.text(line, state)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "auth":
		return p.auth(args, state)
	case "join":
		return p.join(args, state)
	case "rename":
		return nil, p.rename(args, state)
	case "help":
		p.console.PrintHelp()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: /%s", ErrUnknownCommand, fields[0])
	}
}

func (p *CommandProcessor) auth(args []string, state SessionState) (protocol.Message, error) {
	if state != StateStart && state != StateAuth {
		return nil, ErrAlreadyAuthenticated
	}
	if len(args) != 3 {
		return nil, &UsageError{Command: "auth", Err: fmt.Errorf("expected 3 arguments, got %d", len(args))}
	}

	username, secret, displayName := args[0], args[1], args[2]
	switch {
	case !protocol.ValidUsername(username):
		return nil, &UsageError{Command: "auth", Err: protocol.ErrInvalidUsername}
	case !protocol.ValidSecret(secret):
		return nil, &UsageError{Command: "auth", Err: protocol.ErrInvalidSecret}
	case !protocol.ValidDisplayName(displayName):
		return nil, &UsageError{Command: "auth", Err: protocol.ErrInvalidDisplayName}
	}

	p.identity.SetDisplayName(displayName)
	return protocol.Auth{
		MsgID:       p.ids.Next(),
		Username:    username,
		Secret:      secret,
		DisplayName: displayName,
	}, nil
}

func (p *CommandProcessor) join(args []string, state SessionState) (protocol.Message, error) {
	if state != StateOpen {
		return nil, ErrNotAuthenticated
	}
	if len(args) != 1 {
		return nil, &UsageError{Command: "join", Err: fmt.Errorf("expected 1 argument, got %d", len(args))}
	}
	if !protocol.ValidChannelID(args[0]) {
		return nil, &UsageError{Command: "join", Err: protocol.ErrInvalidChannelID}
	}

	return protocol.Join{
		MsgID:       p.ids.Next(),
		ChannelID:   args[0],
		DisplayName: p.identity.DisplayName(),
	}, nil
}

func (p *CommandProcessor) rename(args []string, state SessionState) error {
	if state != StateOpen {
		return ErrNotAuthenticated
	}
	if len(args) != 1 {
		return &UsageError{Command: "rename", Err: fmt.Errorf("expected 1 argument, got %d", len(args))}
	}
	if !protocol.ValidDisplayName(args[0]) {
		return &UsageError{Command: "rename", Err: protocol.ErrInvalidDisplayName}
	}

	p.identity.SetDisplayName(args[0])
	return nil
}

func (p *CommandProcessor) text(line string, state SessionState) (protocol.Message, error) {
	if state != StateOpen {
		return nil, ErrNotAuthenticated
	}
	if !protocol.ValidContent(line) {
		return nil, protocol.ErrInvalidContent
	}

	return protocol.Text{
		MsgID:       p.ids.Next(),
		DisplayName: p.identity.DisplayName(),
		Content:     line,
	}, nil
}
