package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFIFO(t *testing.T) {
	d := NewDispatcher()

	for i := 0; i < 100; i++ {
		d.Push(UpdateRows{EventBase: EventBase{Table: "t", PersistTarget: int64(i)}})
	}
	d.Close()

	var got []int64
	d.Run(func(ev SyncEvent) {
		got = append(got, ev.PersistTargetTime())
	})

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, int64(i), v)
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	var handled int
	done := make(chan struct{})
	go func() {
		d.Run(func(SyncEvent) {
			mu.Lock()
			handled++
			mu.Unlock()
		})
		close(done)
	}()

	for i := 0; i < 10; i++ {
		d.Push(DeleteTable{EventBase: EventBase{Table: "t"}})
	}
	d.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain and exit")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, handled)

	// Pushing after close is dropped.
	d.Push(DeleteTable{EventBase: EventBase{Table: "t"}})
	assert.Equal(t, 0, d.Depth())
}

func TestParseSyncPeriod(t *testing.T) {
	cases := map[string]SyncPeriod{
		"i":  Immediately,
		"1":  Sec1,
		"5":  Sec5,
		"15": Sec15,
		"30": Sec30,
		"60": Min1,
		"a":  Asap,
		"":   Sec5,
		"x":  Sec5,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSyncPeriod(in), in)
	}
	assert.Equal(t, 5*time.Second, Sec5.Duration())
	assert.Equal(t, time.Duration(0), Immediately.Duration())
}
