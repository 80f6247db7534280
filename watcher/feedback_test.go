package watcher

import (
	"context"
	"testing"

	"github.com/kodek/doorguard/watcher/car"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackLogKeepsNewest(t *testing.T) {
	l := NewFeedbackLog(2)
	assert.Empty(t, l.Recent())

	l.Notify(Feedback{Message: "one"})
	l.Notify(Feedback{Message: "two"})
	l.Notify(Feedback{Message: "three"})

	recent := l.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Message)
	assert.Equal(t, "two", recent[1].Message)
}

type failingNotifier struct{}

func (failingNotifier) Notify(Feedback) error { return assert.AnError }

func TestMultiNotifierDeliversToAll(t *testing.T) {
	l := NewFeedbackLog(5)
	err := MultiNotifier{failingNotifier{}, LogNotifier{}, l}.Notify(Feedback{Message: "hi", Type: FeedbackSuccess})
	assert.Equal(t, assert.AnError, err)
	assert.Len(t, l.Recent(), 1)
}

type fakeRoster []car.Device

func (f fakeRoster) Devices(ctx context.Context) ([]car.Device, error) {
	return f, nil
}

func TestDirectoryFollowsRoster(t *testing.T) {
	dir := NewDirectory()
	p, err := car.NewPoller(fakeRoster{{ID: 2, Ident: "b"}, {ID: 1, Ident: "a", Online: true}}, 0)
	require.NoError(t, err)
	p.AddDeviceChangeListener(dir.OnDeviceChange)

	_, ok := dir.Resolve("a")
	assert.False(t, ok)

	p.PollOnce(context.Background())
	d, ok := dir.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.ID)
	assert.Len(t, dir.Devices(), 2)
	assert.Equal(t, "a", dir.Devices()[0].Ident)
}
