package volctl

import "sync"

// dispatcher is the default cross-thread handoff: a serial queue that
// runs posted closures on its own goroutine, standing in for a UI
// toolkit's idle/deferred-call mechanism when the embedder supplies no
// Dispatch option. Closures run in post order.
type dispatcher struct {
	fns  chan func()
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		fns:  make(chan func(), 128),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Post queues fn for execution. Posts after Close are dropped.
func (d *dispatcher) Post(fn func()) {
	select {
	case <-d.done:
	case d.fns <- fn:
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			// Drain whatever was queued before the close.
			for {
				select {
				case fn := <-d.fns:
					fn()
				default:
					return
				}
			}
		case fn := <-d.fns:
			fn()
		}
	}
}

// Close stops the queue after draining pending closures.
func (d *dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}
