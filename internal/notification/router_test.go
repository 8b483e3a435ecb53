package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydonator/rust-plus-web-sub002/internal/events"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/observability"
	"github.com/lydonator/rust-plus-web-sub002/internal/push"
	"github.com/lydonator/rust-plus-web-sub002/internal/store/storetest"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []Job
}

func (d *recordingDispatcher) Dispatch(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func (d *recordingDispatcher) Jobs() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Job(nil), d.jobs...)
}

func routerDrops(t *testing.T) float64 {
	t.Helper()
	observability.RegisterMetrics()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "rustplus_router_queue_dropped_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestRouter_PairingUpsertsServerRecord(t *testing.T) {
	s, gormDB := storetest.New(t)
	storetest.SeedUser(t, gormDB, "user-1", 100, "auth")
	r := NewRouter(s, nil, nil, 8, 1)
	ctx := context.Background()

	r.Handle(ctx, push.Delivery{ID: "d-1", Payload: []byte(serverPairing)})

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "user-1", servers[0].UserID)
	assert.Equal(t, "1.2.3.4:28015", servers[0].Address())
	assert.Equal(t, int32(-123456), servers[0].PlayerToken)
	assert.Equal(t, "Rustafied US Main", servers[0].Name)

	// Pairing the same address again rotates the credentials in place.
	repaired := `{"channelId":"pairing","body":"{\"ip\":\"1.2.3.4\",\"port\":\"28015\",\"playerId\":\"100\",\"playerToken\":\"777\"}"}`
	r.Handle(ctx, push.Delivery{ID: "d-2", Payload: []byte(repaired)})

	servers, err = s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, int32(777), servers[0].PlayerToken)
	assert.Equal(t, "Rustafied US Main", servers[0].Name, "an absent name keeps the stored one")
}

func TestRouter_PairingWithoutTokenMutatesNothing(t *testing.T) {
	s, gormDB := storetest.New(t)
	storetest.SeedUser(t, gormDB, "user-1", 100, "auth")
	r := NewRouter(s, nil, nil, 8, 1)
	ctx := context.Background()

	missingToken := `{"channelId":"pairing","body":"{\"ip\":\"1.2.3.4\",\"port\":\"28015\",\"playerId\":\"100\"}"}`
	r.Handle(ctx, push.Delivery{ID: "d-1", Payload: []byte(missingToken)})

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers)

	// An existing record is not touched either.
	r.Handle(ctx, push.Delivery{ID: "d-2", Payload: []byte(serverPairing)})
	r.Handle(ctx, push.Delivery{ID: "d-3", Payload: []byte(missingToken)})
	servers, err = s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, int32(-123456), servers[0].PlayerToken)
}

func TestRouter_UnknownPlayerIsDropped(t *testing.T) {
	s, _ := storetest.New(t)
	r := NewRouter(s, nil, nil, 8, 1)

	r.Handle(context.Background(), push.Delivery{ID: "d-1", Payload: []byte(serverPairing)})

	servers, err := s.ListServers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestRouter_GenericPersistsPublishesAndFansOut(t *testing.T) {
	s, gormDB := storetest.New(t)
	storetest.SeedUser(t, gormDB, "user-1", 100, "auth")
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()
	fanout := &recordingDispatcher{}
	r := NewRouter(s, bus, fanout, 8, 1)

	payload := `{"channelId":"alarm","title":"Smart Alarm","message":"Raid!","playerId":"100"}`
	r.Handle(context.Background(), push.Delivery{ID: "d-1", Payload: []byte(payload)})
	r.Handle(context.Background(), push.Delivery{ID: "d-1", Payload: []byte(payload)})

	var rows []model.Notification
	require.NoError(t, gormDB.Find(&rows).Error)
	require.Len(t, rows, 2, "deliveries are not de-duplicated")
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.Equal(t, "Smart Alarm", rows[0].Title)
	assert.Equal(t, "d-1", rows[0].DeliveryID)

	e := <-ch
	require.Equal(t, events.KindNotification, e.Kind)
	assert.Equal(t, "Raid!", e.Notification.Body)

	jobs := fanout.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "user-1", jobs[0].UserID)
	assert.JSONEq(t, `{"title":"Smart Alarm","body":"Raid!"}`, string(jobs[0].Payload))
}

func TestRouter_SubmitDropsOldestWhenFull(t *testing.T) {
	r := NewRouter(nil, nil, nil, 2, 1)

	before := routerDrops(t)
	r.Submit(push.Delivery{ID: "d-1"})
	r.Submit(push.Delivery{ID: "d-2"})
	r.Submit(push.Delivery{ID: "d-3"})

	require.Len(t, r.queue, 2)
	assert.Equal(t, "d-2", (<-r.queue).ID)
	assert.Equal(t, "d-3", (<-r.queue).ID)
	assert.Equal(t, before+1, routerDrops(t))
}

func TestRouter_WorkersDrainQueueOnClose(t *testing.T) {
	s, gormDB := storetest.New(t)
	storetest.SeedUser(t, gormDB, "user-1", 100, "auth")
	r := NewRouter(s, nil, nil, 16, 2)
	r.Start(context.Background())

	payload := []byte(`{"title":"t","message":"m","playerId":"100"}`)
	for i := 0; i < 5; i++ {
		r.Submit(push.Delivery{ID: "d", Payload: payload})
	}

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not drain")
	}

	var count int64
	require.NoError(t, gormDB.Model(&model.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(5), count)

	r.Submit(push.Delivery{ID: "late", Payload: payload})
	assert.NotPanics(t, r.Close)
}
