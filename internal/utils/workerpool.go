// Package utils holds small supporting infrastructure shared by the
// transport layer: currently just the bounded worker pool that services
// inbound TCP connections.
package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// taskChanSize bounds the backlog of connections waiting for a free
// worker; a full channel applies backpressure to the listener's Accept
// loop rather than spawning unbounded goroutines per connection.
const taskChanSize = 100

// WorkerFunction is one unit of work a pool executes; it cooperates with
// t.Dying() the same way the engine's own apply loop does.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of goroutines, each pulling tasks off a
// shared channel and running them with work until the tomb dies.
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

// NewWorkerPool builds a pool of size workers sharing one task channel.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues task for the next free worker, blocking if the backlog
// is full.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup keeps pool.n workers alive under t until t dies, respawning any
// worker that exits.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	pool.work = work
	log.Info().Int("activeWorkers", pool.n).Msg("adding workers")
	activeWorkers := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if activeWorkers < pool.n {
				t.Go(func() error {
					err := pool.worker(t)
					activeWorkers--
					return err
				})
				activeWorkers++
			}
		}
	}
}

// worker waits on a single task and runs it, then returns so Setup can
// respawn a replacement — matching the teacher's one-shot-then-respawn
// idiom rather than an internal for-loop per worker.
func (pool *WorkerPool) worker(t *tomb.Tomb) error {
	log.Info().Msg("worker starting")
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := pool.work(t, task); err != nil {
			log.Error().Err(err).Msg("worker exiting")
			return err
		}
	}
	return nil
}
