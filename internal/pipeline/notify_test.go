package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewConsoleNotifier(&buf)

	notifier.Notify(Notification{Level: LevelError, Title: "Unable to connect to the server", Description: "Check that the backend is running."})
	notifier.Notify(Notification{Level: LevelSuccess, Title: "Link copied"})

	assert.Equal(t,
		"✗ Unable to connect to the server: Check that the backend is running.\n✓ Link copied\n",
		buf.String(),
	)
}

func TestCoalescingNotifier(t *testing.T) {
	rec := &recordingNotifier{}
	notifier := NewCoalescingNotifier(rec, time.Minute)
	defer notifier.(*CoalescingNotifier).Close()

	offline := Notification{Level: LevelError, Title: "Unable to connect to the server"}
	notifier.Notify(offline)
	notifier.Notify(offline)
	notifier.Notify(offline)
	notifier.Notify(Notification{Level: LevelError, Title: "URL not found"})
	notifier.Notify(Notification{Level: LevelSuccess, Title: "URL deleted"})
	notifier.Notify(Notification{Level: LevelSuccess, Title: "URL deleted"})

	assert.Equal(t, []Notification{
		offline,
		{Level: LevelError, Title: "URL not found"},
		{Level: LevelSuccess, Title: "URL deleted"},
		{Level: LevelSuccess, Title: "URL deleted"},
	}, rec.all())
}

func TestCoalescingDisabled(t *testing.T) {
	rec := &recordingNotifier{}
	notifier := NewCoalescingNotifier(rec, 0)

	assert.Same(t, rec, notifier)
}

func TestNotifierFunc(t *testing.T) {
	var got Notification
	NotifierFunc(func(n Notification) { got = n }).Notify(Notification{Title: "x"})
	assert.Equal(t, "x", got.Title)
}
