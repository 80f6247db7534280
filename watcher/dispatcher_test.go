package watcher

import (
	"context"
	"sync"
	"testing"

	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSink) SendCommand(ctx context.Context, d car.Device, name string, properties map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, name)
	return f.err
}

type feedbackRecorder struct {
	mu    sync.Mutex
	items []Feedback
}

func (f *feedbackRecorder) Notify(fb Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, fb)
	return nil
}

type dispatchStore struct {
	databases.Multi
	events []databases.DispatchEvent
}

func (d *dispatchStore) InsertDispatch(ctx context.Context, e databases.DispatchEvent) error {
	d.events = append(d.events, e)
	return nil
}

func resolvedDirectory() *Directory {
	dir := NewDirectory()
	dir.Put(car.Device{ID: 11, Ident: testIdent, Name: "Van 1", Online: true})
	return dir
}

var testCommands = (&common.Watcher{
	Commands: map[string]string{rules.CloseAllDoors: "lvcanclosealldoors"},
}).ProviderCommand

func TestDispatchSuccess(t *testing.T) {
	sink := &fakeSink{}
	fb := &feedbackRecorder{}
	store := &dispatchStore{}
	d := NewDispatcher(sink, resolvedDirectory(), fb, testCommands, store)

	ack, err := d.DispatchTrip(context.Background(), testIdent, rules.Trip{Condition: rules.AnyDoorOpenWhileIdle, Command: rules.CloseAllDoors})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)
	assert.Equal(t, "lvcanclosealldoors", ack.ProviderCommand)
	assert.Equal(t, []string{"lvcanclosealldoors"}, sink.sent)

	require.Len(t, fb.items, 1)
	assert.Equal(t, FeedbackSuccess, fb.items[0].Type)
	assert.Equal(t, "Command to lvcanclosealldoors sent successfully", fb.items[0].Message)

	require.Len(t, store.events, 1)
	assert.Equal(t, ack.ID, store.events[0].ID)
	assert.Equal(t, rules.AnyDoorOpenWhileIdle, store.events[0].Condition)
	assert.True(t, store.events[0].Success)
}

func TestDispatchFailure(t *testing.T) {
	sink := &fakeSink{err: assert.AnError}
	fb := &feedbackRecorder{}
	store := &dispatchStore{}
	d := NewDispatcher(sink, resolvedDirectory(), fb, testCommands, store)

	_, err := d.Dispatch(context.Background(), testIdent, "honk")
	require.Error(t, err)
	assert.Equal(t, []string{"honk"}, sink.sent, "unmapped commands pass through")

	require.Len(t, fb.items, 1)
	assert.Equal(t, FeedbackError, fb.items[0].Type)
	assert.Equal(t, "Failed to send command to honk", fb.items[0].Message)
	require.Len(t, store.events, 1)
	assert.False(t, store.events[0].Success)
	assert.Equal(t, assert.AnError.Error(), store.events[0].Error)
}

func TestDispatchWithoutCommandMapping(t *testing.T) {
	sink := &fakeSink{}
	fb := &feedbackRecorder{}
	d := NewDispatcher(sink, resolvedDirectory(), fb, nil, nil)

	ack, err := d.Dispatch(context.Background(), testIdent, rules.CloseAllDoors)
	require.NoError(t, err)
	assert.Equal(t, rules.CloseAllDoors, ack.ProviderCommand)
	assert.Equal(t, []string{rules.CloseAllDoors}, sink.sent)
	assert.Equal(t, "Command to close-all-doors sent successfully", fb.items[0].Message)
}

func TestDispatchToUnresolvedDeviceIsNoop(t *testing.T) {
	sink := &fakeSink{}
	fb := &feedbackRecorder{}
	d := NewDispatcher(sink, NewDirectory(), fb, testCommands, nil)

	_, err := d.Dispatch(context.Background(), testIdent, rules.CloseAllDoors)
	assert.Equal(t, ErrDeviceNotResolved, err)
	assert.Empty(t, sink.sent)
	assert.Empty(t, fb.items)
}

func TestSessionWithDispatcherFailureDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{err: assert.AnError}
	fb := &feedbackRecorder{}
	d := NewDispatcher(sink, resolvedDirectory(), fb, testCommands, nil)
	s := newTestSession(t, d, make(chanSource), newFakeClock())

	for i := 0; i < 3; i++ {
		s.Ingest(ctx, vehicle(true, true, 0))
		s.Evaluate(ctx)
	}
	assert.Len(t, sink.sent, 1)
	assert.Len(t, fb.items, 1)
}
