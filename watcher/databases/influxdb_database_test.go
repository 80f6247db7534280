package databases

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kodek/doorguard/watcher/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type influxRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func newInfluxServer(t *testing.T) (*httptest.Server, *influxRecorder) {
	rec := &influxRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/write", r.URL.Path)
		assert.Equal(t, "doorguard", r.URL.Query().Get("db"))
		body, _ := ioutil.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, string(body))
		rec.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestInfluxInsert(t *testing.T) {
	srv, got := newInfluxServer(t)
	db, err := OpenInfluxDbDatabase(srv.URL, "", "", "doorguard")
	require.NoError(t, err)
	defer db.Close()

	rec := rules.NewRecord("x", 1700000000000, map[string]rules.Value{
		"can.vehicle.speed": rules.Number(12),
	})
	require.NoError(t, db.Insert(context.Background(), rec, rules.VehicleState{Doors: rules.DoorStatus{Trunk: true}}))

	require.Len(t, got.bodies, 1)
	assert.Contains(t, got.bodies[0], "telemetry,ident=x can.vehicle.speed=12")
	assert.Contains(t, got.bodies[0], "doors,ident=x")
	assert.Contains(t, got.bodies[0], "trunk=true")

	_, err = db.GetLatest(context.Background(), "x")
	assert.Equal(t, ErrNotSupported, err)
}

func TestInfluxInsertDispatch(t *testing.T) {
	srv, got := newInfluxServer(t)
	db, err := OpenInfluxDbDatabase(srv.URL, "", "", "doorguard")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InsertDispatch(context.Background(), DispatchEvent{
		ID: "a", Timestamp: time.Unix(1700000000, 0), Ident: "x", Condition: rules.AnyDoorOpenWhileIdle,
		Command: rules.CloseAllDoors, ProviderCommand: "lvcanclosealldoors", Success: true,
	}))
	require.Len(t, got.bodies, 1)
	assert.Contains(t, got.bodies[0], "dispatch,")
	assert.Contains(t, got.bodies[0], "success=true")
}
