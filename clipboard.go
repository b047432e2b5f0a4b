package rdclient

import "rdclient/internal/clipboard"

// ClipboardSubscription ties a session to the shared clipboard poller; call
// Close when the session ends.
type ClipboardSubscription struct {
	sub clipboard.Subscription
}

// SubscribeClipboard registers onChange for clipboard-content notifications
// and starts the process-wide poller if this is the first active session.
func SubscribeClipboard(onChange func(text string)) ClipboardSubscription {
	return ClipboardSubscription{sub: clipboard.Subscribe(onChange)}
}

// Close unregisters the session. The poller stops once no session remains.
func (c ClipboardSubscription) Close() {
	c.sub.Cancel()
}

// SetClipboardProvider installs a platform clipboard backend. Without one,
// the poller never observes a change.
func SetClipboardProvider(p clipboard.Provider) {
	clipboard.SetProvider(p)
}
