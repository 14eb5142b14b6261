package pipeline

import "sync"

// Observer receives run notifications. Callbacks are invoked from the
// pipeline's worker; implementations that render must hand the work off to
// their own goroutine, or be wrapped in an AsyncObserver.
type Observer interface {
	OnLog(message string)
	OnProgress(percent float64)
	OnFinished(success bool, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Log      func(message string)
	Progress func(percent float64)
	Finished func(success bool, err error)
}

func (f ObserverFuncs) OnLog(message string) {
	if f.Log != nil {
		f.Log(message)
	}
}

func (f ObserverFuncs) OnProgress(percent float64) {
	if f.Progress != nil {
		f.Progress(percent)
	}
}

func (f ObserverFuncs) OnFinished(success bool, err error) {
	if f.Finished != nil {
		f.Finished(success, err)
	}
}

// AsyncObserver queues notifications and delivers them to the wrapped
// observer from its own goroutine, in order. Enqueueing never blocks on the
// wrapped observer.
type AsyncObserver struct {
	target Observer

	mu      sync.Mutex
	queue   []func(Observer)
	closed  bool
	wake    chan struct{}
	drained chan struct{}
}

// NewAsyncObserver starts delivery to target.
func NewAsyncObserver(target Observer) *AsyncObserver {
	a := &AsyncObserver{
		target:  target,
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) OnLog(message string) {
	a.push(func(o Observer) { o.OnLog(message) })
}

func (a *AsyncObserver) OnProgress(percent float64) {
	a.push(func(o Observer) { o.OnProgress(percent) })
}

func (a *AsyncObserver) OnFinished(success bool, err error) {
	a.push(func(o Observer) { o.OnFinished(success, err) })
}

// Close stops accepting notifications and waits until every queued one has
// been delivered.
func (a *AsyncObserver) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.signal()
	}
	a.mu.Unlock()
	<-a.drained
}

func (a *AsyncObserver) push(fn func(Observer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.queue = append(a.queue, fn)
	a.signal()
}

// signal must be called with mu held.
func (a *AsyncObserver) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *AsyncObserver) loop() {
	defer close(a.drained)
	for {
		<-a.wake
		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				closed := a.closed
				a.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			fn(a.target)
		}
	}
}
