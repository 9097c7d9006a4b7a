package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"espvote/internal/models"

	"github.com/alicebob/miniredis/v2"
)

type countingLoader struct {
	calls int
	list  []models.Device
	err   error
}

func (l *countingLoader) load(context.Context) ([]models.Device, error) {
	l.calls++
	return l.list, l.err
}

func newCache(t *testing.T, l *countingLoader) (*Devices, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewDevices(rdb, l.load, time.Minute), mr
}

func TestRegisteredUsesCache(t *testing.T) {
	l := &countingLoader{list: []models.Device{{ID: 1, HardwareAddress: "AA", SessionID: "s1", Registered: true}}}
	c, mr := newCache(t, l)
	ctx := context.Background()

	got, err := c.Registered(ctx)
	if err != nil || len(got) != 1 || got[0].HardwareAddress != "AA" {
		t.Fatalf("first read: %v %+v", err, got)
	}
	if !mr.Exists(registeredDevicesKey) {
		t.Fatalf("result must be written to redis")
	}
	if _, err := c.Registered(ctx); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("second read must hit the cache, loader called %d times", l.calls)
	}

	c.Invalidate(ctx)
	if mr.Exists(registeredDevicesKey) {
		t.Fatalf("invalidate must drop the key")
	}
	_, _ = c.Registered(ctx)
	if l.calls != 2 {
		t.Fatalf("read after invalidate must reload, calls=%d", l.calls)
	}
}

func TestRegisteredFallsBackWhenRedisDown(t *testing.T) {
	l := &countingLoader{list: []models.Device{{ID: 2}}}
	c, mr := newCache(t, l)
	mr.Close()

	got, err := c.Registered(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("fallback read: %v %+v", err, got)
	}
}

func TestCorruptEntryIsReloaded(t *testing.T) {
	l := &countingLoader{list: []models.Device{{ID: 3}}}
	c, mr := newCache(t, l)
	_ = mr.Set(registeredDevicesKey, "{not json")

	got, err := c.Registered(context.Background())
	if err != nil || len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("corrupt entry: %v %+v", err, got)
	}
}

func TestDisabledCache(t *testing.T) {
	l := &countingLoader{err: errors.New("db down")}
	c := NewDevices(nil, l.load, time.Minute)
	ctx := context.Background()

	if _, err := c.Registered(ctx); err == nil {
		t.Fatalf("loader error must propagate")
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh of disabled cache: %v", err)
	}
	c.Invalidate(ctx)
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping of disabled cache: %v", err)
	}
	c.Run(ctx, time.Second) // сразу возвращается
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	l := &countingLoader{list: []models.Device{{ID: 4}}}
	c, mr := newCache(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !mr.Exists(registeredDevicesKey) {
		select {
		case <-deadline:
			t.Fatalf("cache was not populated by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
