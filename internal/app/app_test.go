package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/goliatone/go-logger/glog"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedApp(buf *bytes.Buffer) *App {
	return &App{logger: glog.NewLogger(
		glog.WithLoggerTypeJSON(),
		glog.WithWriter(buf),
		glog.WithLevel(glog.Info),
	)}
}

func TestActivityLogRecordsChannel(t *testing.T) {
	var buf bytes.Buffer
	a := newLoggedApp(&buf)

	var forwarded []session.ActivityEvent
	next := session.ActivitySinkFunc(func(_ context.Context, event session.ActivityEvent) error {
		forwarded = append(forwarded, event)
		return nil
	})

	event := session.ActivityEvent{EventType: session.ActivityEventLogout, UserID: "user-1"}
	err := a.ActivityLog(next, activitymap.WithChannel("cli")).Record(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, []session.ActivityEvent{event}, forwarded)
	assert.Contains(t, buf.String(), `"channel":"cli"`)
	assert.Contains(t, buf.String(), `"verb":"session.logout"`)
}

func TestActivityLogDefaultsToWebChannel(t *testing.T) {
	var buf bytes.Buffer
	a := newLoggedApp(&buf)

	err := a.ActivityLog(nil).Record(context.Background(), session.ActivityEvent{EventType: session.ActivityEventLogout})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"channel":"web"`)
}
