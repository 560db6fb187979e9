package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOverloaded is returned by Submit when the request queue is full. The
// caller reports it to the client and keeps the session open.
var ErrOverloaded = errors.New("recognizer: request queue full")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("recognizer: pool closed")

// A worker is retired after this many consecutive model failures; the pool
// keeps serving on the remaining workers.
const retireAfterFailures = 3

// Job is one utterance dispatched for transcription.
type Job struct {
	SessionID int64
	SpeechID  string
	Samples   []float32
	Lang      string
	Prompt    string
}

// Pool runs W workers over a bounded FIFO queue. Each worker owns one
// Transcriber instance, so inference runs off the session goroutines.
// Submission is non-blocking; results are delivered on a per-job channel,
// which keeps delivery 1:1 with the originating session.
type Pool struct {
	queue      chan submission
	jobTimeout time.Duration

	workers int32
	retired int32
	depth   int32

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type submission struct {
	job Job
	out chan Result
}

// NewPool builds workers from the factory, one Transcriber each. The
// factory runs up front so model-load failures surface at startup.
func NewPool(factory func() (Transcriber, error), workers, queueDepth int, jobTimeout time.Duration) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("recognizer: need at least one worker, got %d", workers)
	}
	if queueDepth < 1 {
		return nil, fmt.Errorf("recognizer: queue depth must be positive, got %d", queueDepth)
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	p := &Pool{
		queue:      make(chan submission, queueDepth),
		jobTimeout: jobTimeout,
		workers:    int32(workers),
	}
	for i := 0; i < workers; i++ {
		t, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("recognizer: build worker %d: %w", i, err)
		}
		p.wg.Add(1)
		go p.run(i, t)
	}
	return p, nil
}

// Submit enqueues a job without blocking. The returned channel receives
// exactly one Result unless the pool shuts down first.
func (p *Pool) Submit(job Job) (ch <-chan Result, err error) {
	// A send on the queue closed by Close panics; report it as ErrPoolClosed.
	defer func() {
		if recover() != nil {
			ch, err = nil, ErrPoolClosed
		}
	}()
	out := make(chan Result, 1)
	select {
	case p.queue <- submission{job: job, out: out}:
		atomic.AddInt32(&p.depth, 1)
		return out, nil
	default:
		return nil, ErrOverloaded
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

// Workers returns the number of workers still serving.
func (p *Pool) Workers() int { return int(atomic.LoadInt32(&p.workers)) }

// Retired returns how many workers have been retired for repeated failures.
func (p *Pool) Retired() int { return int(atomic.LoadInt32(&p.retired)) }

// QueueDepth returns the number of queued, unstarted jobs.
func (p *Pool) QueueDepth() int { return int(atomic.LoadInt32(&p.depth)) }

func (p *Pool) run(id int, t Transcriber) {
	defer p.wg.Done()
	defer t.Close()

	failures := 0
	for sub := range p.queue {
		atomic.AddInt32(&p.depth, -1)
		res := p.transcribe(t, sub.job, sub.out)

		if res.Failed() && res.Err.Kind == KindModelFailure {
			failures++
			if failures >= retireAfterFailures {
				atomic.AddInt32(&p.workers, -1)
				atomic.AddInt32(&p.retired, 1)
				log.Printf("recognizer: worker %d retired after %d consecutive failures", id, failures)
				return
			}
			continue
		}
		failures = 0
	}
}

// transcribe runs one job under the pool deadline and delivers the result
// on out. The model call runs in its own goroutine so the deadline fires
// even if the Transcriber ignores ctx; on a timeout the client sees the
// Timeout result at the deadline, and the worker then waits for the late
// call to return before taking the next job — a Transcriber instance is
// never invoked concurrently.
func (p *Pool) transcribe(t Transcriber, job Job, out chan Result) Result {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		res, err := t.Transcribe(ctx, job.Samples, job.Lang, job.Prompt)
		if err != nil {
			res = Result{Err: &ErrorInfo{Kind: KindModelFailure, Message: err.Error()}}
		}
		done <- res
	}()

	select {
	case res := <-done:
		out <- res
		return res
	case <-ctx.Done():
		timeout := Result{Err: &ErrorInfo{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("transcription exceeded %s deadline", p.jobTimeout),
		}}
		out <- timeout
		<-done // discard the late result
		return timeout
	}
}
