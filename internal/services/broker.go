package services

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"aggreader/internal/database"
)

// taskQueueSize bounds pending work; Enqueue fails once it is full.
const taskQueueSize = 256

// defaultTaskRetention is how long finished task rows are kept.
const defaultTaskRetention = 7 * 24 * time.Hour

type task struct {
	id   string
	name string
	fn   func() (string, error)
}

// TaskBroker is an in-process job queue with a fixed worker pool. Each
// finished task leaves a durable row recording its outcome.
type TaskBroker struct {
	db    database.Database
	queue chan task

	wg   sync.WaitGroup
	quit chan struct{}

	stopOnce sync.Once
}

func NewTaskBroker(db database.Database, workers int) *TaskBroker {
	if workers <= 0 {
		workers = 4
	}

	broker := &TaskBroker{
		db:    db,
		queue: make(chan task, taskQueueSize),
		quit:  make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		broker.wg.Add(1)
		go broker.worker()
	}

	return broker
}

// Enqueue schedules fn for execution and returns its task id. The
// returned id can be used to look up the recorded outcome later.
func (b *TaskBroker) Enqueue(name string, fn func() (string, error)) (string, error) {
	id := uuid.NewString()

	select {
	case b.queue <- task{id: id, name: name, fn: fn}:
		return id, nil
	case <-b.quit:
		return "", fmt.Errorf("task broker stopped")
	default:
		return "", ErrQueueFull
	}
}

func (b *TaskBroker) worker() {
	defer b.wg.Done()

	for {
		select {
		case t := <-b.queue:
			b.execute(t)
		case <-b.quit:
			// Drain what is already queued before exiting.
			for {
				select {
				case t := <-b.queue:
					b.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (b *TaskBroker) execute(t task) {
	started := time.Now()

	result, err := b.runProtected(t)

	row := &database.Task{
		ID:         t.id,
		Name:       t.name,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		row.Status = "failure"
		row.Error = err.Error()
		log.Printf("task %s (%s) failed: %v", t.id, t.name, err)
	} else {
		row.Status = "success"
		row.Result = result
	}

	if recordErr := b.db.RecordTask(row); recordErr != nil {
		log.Printf("task %s: failed to record outcome: %v", t.id, recordErr)
	}
}

// runProtected executes the task function, converting panics into
// recorded failures so one bad job cannot take a worker down.
func (b *TaskBroker) runProtected(t task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.fn()
}

// CleanupTasks deletes finished task rows older than the retention
// window and returns the number removed.
func (b *TaskBroker) CleanupTasks(retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = defaultTaskRetention
	}
	return b.db.DeleteTasksBefore(time.Now().Add(-retention))
}

// Stop shuts the broker down and waits for in-flight tasks to finish.
func (b *TaskBroker) Stop() {
	b.stopOnce.Do(func() { close(b.quit) })
	b.wg.Wait()
}
