package invalidation

import "unicode/utf8"

const previewLength = 50

// Notification is a user-facing alert about an incoming message.
type Notification struct {
	Title       string
	Description string
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Preview renders "sender: message", keeping the first 50 characters of the
// message and marking the cut with "...".
func Preview(senderName, message string) string {
	if utf8.RuneCountInString(message) <= previewLength {
		return senderName + ": " + message
	}
	runes := []rune(message)
	return senderName + ": " + string(runes[:previewLength]) + "..."
}
