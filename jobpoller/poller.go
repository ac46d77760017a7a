/*
Package jobpoller waits for a backend job to reach a terminal state by fetching it on a fixed interval.
*/
package jobpoller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

const DEFAULT_INTERVAL = 2 * time.Second

var ErrTimedOut = errors.New("timed out waiting for job to finish")

type JobFetcher interface {
	GetJob(ctx context.Context, jobId string) (*models.Job, error)
}

/**
ProgressFunc receives every snapshot fetched, including the terminal one
*/
type ProgressFunc func(job *models.Job)

type Options struct {
	//time between fetches, DEFAULT_INTERVAL if zero
	Interval time.Duration
	//overall bound on the wait. Zero means wait until the job is terminal or the context ends.
	Timeout time.Duration
}

type Poller struct {
	fetcher  JobFetcher
	interval time.Duration
	timeout  time.Duration
}

func New(fetcher JobFetcher, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DEFAULT_INTERVAL
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		timeout:  opts.Timeout,
	}
}

/**
fetch the job until its status is completed or failed and return that terminal snapshot.
The first fetch happens straight away, so a job that is already finished costs one request and no sleep.

A fetch error ends the wait with that error. If the timeout runs out the last snapshot seen (possibly nil)
is returned along with an error wrapping ErrTimedOut; if ctx is cancelled, ctx.Err() is returned.

Status never goes backwards in what is reported: a fetch that claims an earlier status than one already
seen keeps the later status.
*/
func (p *Poller) WaitForCompletion(ctx context.Context, jobId string, progress ProgressFunc) (*models.Job, error) {
	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var last *models.Job
	for {
		job, err := p.fetcher.GetJob(waitCtx, jobId)
		if err != nil {
			if timedOut(ctx, waitCtx) {
				return last, fmt.Errorf("job %s: %w", jobId, ErrTimedOut)
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			log.Errorf("Could not fetch job %s: %s", jobId, err)
			return last, err
		}

		if last != nil && !last.Status.CanMoveTo(job.Status) {
			log.Warnf("WARNING: job %s reported %s after %s, keeping %s", jobId, job.Status, last.Status, last.Status)
			job.Status = last.Status
		}
		last = job

		if progress != nil {
			progress(job)
		}
		if job.Status.IsTerminal() {
			log.Debugf("job %s finished with status %s", jobId, job.Status)
			return job, nil
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if timedOut(ctx, waitCtx) {
				return last, fmt.Errorf("job %s still %s: %w", jobId, last.Status, ErrTimedOut)
			}
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

func timedOut(parent context.Context, waitCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded)
}
