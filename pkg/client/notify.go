package client

import (
	"github.com/gen2brain/beeep"
)

// maxNotificationBody keeps desktop popups short.
const maxNotificationBody = 100

// DesktopNotifier shows incoming messages as desktop notifications.
type DesktopNotifier struct {
	IconPath string // optional
}

func NewDesktopNotifier(appName string) *DesktopNotifier {
	if appName != "" {
		beeep.AppName = appName
	}
	return &DesktopNotifier{}
}

func (n *DesktopNotifier) Notify(title, body string) error {
	if len(body) > maxNotificationBody {
		body = body[:maxNotificationBody-3] + "..."
	}
	return beeep.Notify(title, body, n.IconPath)
}
