package client

// StateStore persists what the client remembers between runs. Store
// implements it on sqlite; MockStore keeps everything in memory.
type StateStore interface {
	GetLastDisplayName() string
	SetLastDisplayName(name string) error

	GetLastSuccessfulTransport(serverAddress string) (string, error)
	SaveSuccessfulConnection(serverAddress, transportName string) error

	RecordSessionStart(sessionID, serverAddress, transportName, displayName string) error
	RecordSessionEnd(sessionID, outcome string) error

	Close() error
}

// Notifier surfaces incoming chat messages outside the terminal.
type Notifier interface {
	Notify(title, body string) error
}

var (
	_ StateStore = (*Store)(nil)
	_ StateStore = (*MockStore)(nil)
	_ Notifier   = (*DesktopNotifier)(nil)
)
