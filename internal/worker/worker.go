package worker

import (
	"fmt"
)

// Job is one unit of work scheduled for a session.
type Job struct {
	SessionID string

	run    func()
	result chan error
	stop   bool
}

func newJob(sessionID string, fn func()) Job {
	return Job{SessionID: sessionID, run: fn, result: make(chan error, 1)}
}

// execute runs the job and reports completion. A panic is reported as an error.
func (j Job) execute() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job for session %s panicked: %v", j.SessionID, r)
		}
		j.result <- err
	}()
	j.run()
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) start() {
	go func() {
		for {
			if !w.pool.release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			job.execute()
		}
	}()
}
