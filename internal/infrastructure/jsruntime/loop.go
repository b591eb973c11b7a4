package jsruntime

import (
	"container/heap"
	"sync"
	"time"
)

// taskQueue is an unbounded FIFO of loop tasks. Producers never block.
type taskQueue struct {
	mu    sync.Mutex
	items []func()
	ready chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

func (q *taskQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take removes everything queued so far.
func (q *taskQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *taskQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

type timer struct {
	id       int64
	seq      uint64
	deadline time.Time
	interval time.Duration
	repeat   bool
	unref    bool
	fn       func()
	index    int
}

// timerHeap orders timers by (deadline, seq).
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// loop is the single goroutine that owns a VM. Each turn runs submitted
// jobs, then hostcall completions, then due timers.
type loop struct {
	jobs        *taskQueue
	completions *taskQueue
	// exec runs one task inside the VM. It is set by the runtime.
	exec func(func())

	// owned by the loop goroutine
	timers   timerHeap
	byID     map[int64]*timer
	nextID   int64
	nextSeq  uint64
	inflight int
	idle     []chan struct{}

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

func newLoop(exec func(func())) *loop {
	return &loop{
		jobs:        newTaskQueue(),
		completions: newTaskQueue(),
		exec:        exec,
		byID:        make(map[int64]*timer),
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// submit queues fn to run on the loop. It reports false once the loop has
// stopped.
func (l *loop) submit(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	l.jobs.push(fn)
	return true
}

// complete queues a hostcall completion. Completions are delivered even
// when they carry no callback so inflight accounting stays exact.
func (l *loop) complete(fn func()) {
	l.completions.push(func() {
		l.inflight--
		if fn != nil {
			l.exec(fn)
		}
	})
}

func (l *loop) run() {
	defer close(l.done)
	for {
		for _, job := range l.jobs.take() {
			l.exec(job)
		}
		for _, c := range l.completions.take() {
			c()
		}
		l.runDueTimers()
		l.notifyIdle()

		var wake <-chan time.Time
		if len(l.timers) > 0 {
			t := time.NewTimer(l.timers[0].deadline.Sub(l.now()))
			wake = t.C
			select {
			case <-l.stop:
				t.Stop()
				return
			case <-l.jobs.ready:
			case <-l.completions.ready:
			case <-wake:
			}
			t.Stop()
			continue
		}
		select {
		case <-l.stop:
			return
		case <-l.jobs.ready:
		case <-l.completions.ready:
		}
	}
}

func (l *loop) runDueTimers() {
	now := l.now()
	var due []*timer
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*timer))
	}
	for _, t := range due {
		if _, live := l.byID[t.id]; !live {
			continue
		}
		if t.repeat {
			t.deadline = now.Add(t.interval)
			l.nextSeq++
			t.seq = l.nextSeq
			heap.Push(&l.timers, t)
		} else {
			delete(l.byID, t.id)
		}
		l.exec(t.fn)
	}
}

// addTimer schedules fn. Must be called on the loop goroutine.
func (l *loop) addTimer(delay time.Duration, repeat bool, fn func()) int64 {
	if delay < 0 {
		delay = 0
	}
	if repeat && delay == 0 {
		delay = time.Millisecond
	}
	l.nextID++
	l.nextSeq++
	t := &timer{
		id:       l.nextID,
		seq:      l.nextSeq,
		deadline: l.now().Add(delay),
		interval: delay,
		repeat:   repeat,
		fn:       fn,
	}
	l.byID[t.id] = t
	heap.Push(&l.timers, t)
	return t.id
}

// clearTimer cancels a timer. Unknown ids are ignored.
func (l *loop) clearTimer(id int64) {
	t, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if t.index >= 0 && t.index < len(l.timers) && l.timers[t.index] == t {
		heap.Remove(&l.timers, t.index)
	}
}

// setRef marks whether a timer keeps the loop busy.
func (l *loop) setRef(id int64, ref bool) {
	if t, ok := l.byID[id]; ok {
		t.unref = !ref
	}
}

func (l *loop) hasRef(id int64) bool {
	t, ok := l.byID[id]
	return ok && !t.unref
}

func (l *loop) isIdle() bool {
	if l.inflight != 0 || !l.jobs.empty() || !l.completions.empty() {
		return false
	}
	for _, t := range l.byID {
		if !t.unref {
			return false
		}
	}
	return true
}

func (l *loop) notifyIdle() {
	if len(l.idle) == 0 || !l.isIdle() {
		return
	}
	for _, ch := range l.idle {
		close(ch)
	}
	l.idle = nil
}

// whenIdle returns a channel closed the next time the loop has no queued
// work, no inflight hostcalls and no referenced timers.
func (l *loop) whenIdle() (<-chan struct{}, bool) {
	ch := make(chan struct{})
	ok := l.submit(func() {
		l.idle = append(l.idle, ch)
	})
	return ch, ok
}

// shutdown stops the loop and waits for the current turn to end.
func (l *loop) shutdown() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}
