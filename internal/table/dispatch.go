package table

import (
	"sync"

	"github.com/tobsdb/pivot/internal/metrics"
	"github.com/tobsdb/pivot/pkg"
)

// dispatcher runs callbacks one at a time in the order they were queued.
// A callback that mutates the table queues its own callbacks behind the
// current ones instead of running them re-entrantly.
type dispatcher struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (d *dispatcher) push(calls ...func()) {
	if len(calls) == 0 {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, calls...)
	d.mu.Unlock()
}

// drain runs queued callbacks until the queue is empty. If another drain is
// in progress it returns at once and that drain picks up the new entries.
func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		call := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		safeCall(call)
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func safeCall(call func()) {
	defer func() {
		if r := recover(); r != nil {
			pkg.ErrorLog("callback panicked:", r)
			metrics.RecordCallback(true)
		}
	}()
	call()
	metrics.RecordCallback(false)
}
