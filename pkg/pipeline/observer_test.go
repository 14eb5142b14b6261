package pipeline

import (
	"fmt"
	"sync"
	"testing"
)

type blockingObserver struct {
	recordingObserver
	gate chan struct{}
}

func (o *blockingObserver) OnLog(message string) {
	<-o.gate
	o.recordingObserver.OnLog(message)
}

func TestAsyncObserverDoesNotBlockAndKeepsOrder(t *testing.T) {
	target := &blockingObserver{gate: make(chan struct{})}
	async := NewAsyncObserver(target)

	for i := 0; i < 100; i++ {
		async.OnLog(fmt.Sprintf("line %d", i))
	}
	async.OnProgress(42)
	async.OnFinished(true, nil)

	close(target.gate)
	async.Close()

	if len(target.logs) != 100 {
		t.Fatalf("expected 100 log lines, got %d", len(target.logs))
	}
	for i, line := range target.logs {
		if line != fmt.Sprintf("line %d", i) {
			t.Fatalf("out of order at %d: %s", i, line)
		}
	}
	if len(target.progress) != 1 || target.progress[0] != 42 {
		t.Fatalf("unexpected progress %v", target.progress)
	}
	if len(target.finished) != 1 || !target.finished[0] {
		t.Fatalf("unexpected finish %v", target.finished)
	}
}

func TestAsyncObserverDropsAfterClose(t *testing.T) {
	target := &recordingObserver{}
	async := NewAsyncObserver(target)
	async.OnLog("before")
	async.Close()
	async.OnLog("after")
	async.Close()

	if len(target.logs) != 1 || target.logs[0] != "before" {
		t.Fatalf("unexpected logs %v", target.logs)
	}
}

func TestObserverFuncsIgnoresNil(t *testing.T) {
	var mu sync.Mutex
	var got []string
	obs := ObserverFuncs{Log: func(m string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	}}
	obs.OnLog("hello")
	obs.OnProgress(10)
	obs.OnFinished(true, nil)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected %v", got)
	}
}
