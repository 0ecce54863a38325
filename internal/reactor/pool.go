package reactor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Task is a zero-argument, no-return unit of work executed by a WorkerPool
// goroutine. The queue is a mutex+condition-variable bounded FIFO rather
// than a buffered channel: Submit must reject work once a hard capacity
// is reached, an invariant a channel alone cannot enforce without a race
// between len(ch) and the send.
type Task func()

// queuedTask pairs a Task with a correlation id so a panic log line can
// name which submission failed.
type queuedTask struct {
	id   string
	task Task
}

// WorkerPool is a bounded FIFO task queue drained by a fixed set of
// worker goroutines. Submit never reorders tasks: workers always pop the
// oldest queued task first, and there is no priority or work-stealing.
type WorkerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []queuedTask
	maxTasks int
	stopping bool
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// NewWorkerPool starts maxPoolSize worker goroutines backed by a FIFO
// bounded at maxTaskNum pending tasks.
func NewWorkerPool(maxPoolSize, maxTaskNum int, log *logrus.Entry) *WorkerPool {
	if maxPoolSize <= 0 {
		maxPoolSize = 1
	}
	if maxTaskNum <= 0 {
		maxTaskNum = 1
	}
	p := &WorkerPool{maxTasks: maxTaskNum, log: log}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < maxPoolSize; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

// Submit enqueues task for execution by a worker goroutine. It returns
// false, without enqueuing anything, when the queue is already at
// maxTaskNum capacity or the pool has begun stopping.
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return false
	}
	if len(p.queue) >= p.maxTasks {
		return false
	}
	p.queue = append(p.queue, queuedTask{id: uuid.NewString(), task: task})
	p.cond.Signal()
	return true
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopping {
			p.mu.Unlock()
			return
		}
		qt := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.execute(qt)
	}
}

// execute runs qt.task, recovering from and logging a panic instead of
// retrying or crashing the worker: a panicking user callback must not
// take the whole pool down, and a failed task is never retried.
func (p *WorkerPool) execute(qt queuedTask) {
	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.WithFields(logrus.Fields{"task_id": qt.id, "panic": r}).Warn("worker task panicked")
			}
		}
	}()
	qt.task()
}

// Stop wakes every waiting worker and blocks until the queue has drained
// and all workers have exited. Tasks queued before Stop is called are
// still executed; Stop only prevents new submissions from being accepted.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
