package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/jobpoller"
	"github.com/axolotl-cloud/jobwatch/lifecycle"
	"github.com/axolotl-cloud/jobwatch/statuscache"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

/**
start or stop a container and wait for the outcome. The container's status keeps refreshing in the
background for the whole command, skipped while the action is in flight. With --follow the job's log
lines are streamed over the push channel while the poller runs.
*/
func toggleAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ref, refErr := app.containerRef(cmd)
	if refErr != nil {
		return refErr
	}

	cache := statuscache.New()
	coordinator := lifecycle.NewCoordinator(app.api, app.newPoller(cmd), cache, helpers.WriterNotifier{Out: os.Stdout})
	refresher := statuscache.NewRefresher(cache, app.api, ref, app.config.Polling.StatusInterval).SkipWhile(coordinator.InFlight)

	current := models.ContainerStatus(cmd.String("current"))
	if current == "" {
		current = refresher.Refresh(ctx)
		log.Printf("Container %s is currently %s", ref, current.Label())
	}
	cache.OnChange(func(key string, entry statuscache.Entry) {
		log.Debugf("%s is now %s (seq %d)", key, entry.Status, entry.Seq)
	})
	refresher.Start(ctx)
	defer refresher.Stop()

	printer := newLogPrinter(os.Stdout)
	session := newPushSession(app.config, app.store)
	view := session.view
	view.OnUpdate(func(job models.Job) {
		printer.PrintNew(job)
	})

	if cmd.Bool("follow") {
		if startErr := session.Start(ctx); startErr != nil {
			log.Warnf("WARNING: no live logs, push channel unavailable: %s", startErr)
		}
	}
	defer session.Close()

	var watchOnce sync.Once
	coordinator.OnJobProgress(func(job *models.Job) {
		if cmd.Bool("follow") && !job.Status.IsTerminal() {
			watchOnce.Do(func() { view.Watch(job.Id) })
		}
		view.ApplySnapshot(job)
	})

	result := coordinator.Toggle(ctx, ref, current)
	fmt.Printf("%s %s: %s (container is now %s)\n", result.Action, ref, result.Outcome, result.Status.Label())
	if result.Outcome != lifecycle.OUTCOME_SUCCESS {
		return cli.Exit("", 1)
	}
	return nil
}

/**
poll a job until it finishes, printing its logs as they appear
*/
func waitAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobId := cmd.String("job")
	if jobId == "" {
		jobId = cmd.Args().First()
	}
	if jobId == "" {
		return errors.New("no job given, use --job")
	}

	printer := newLogPrinter(os.Stdout)
	job, waitErr := app.newPoller(cmd).WaitForCompletion(ctx, jobId, func(j *models.Job) {
		if putErr := app.store.Put(j); putErr != nil {
			log.Warnf("WARNING: could not record job %s: %s", j.Id, putErr)
		}
		printer.PrintNew(*j)
	})
	if waitErr != nil {
		if errors.Is(waitErr, jobpoller.ErrTimedOut) {
			return cli.Exit(fmt.Sprintf("job %s did not finish in time", jobId), 2)
		}
		return waitErr
	}

	fmt.Printf("job %s %s\n", job.Id, job.Status)
	if job.Status.IsFailure() {
		return cli.Exit("", 1)
	}
	return nil
}

/**
print a container's status once, or keep printing changes with --follow
*/
func statusAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ref, refErr := app.containerRef(cmd)
	if refErr != nil {
		return refErr
	}

	cache := statuscache.New()
	refresher := statuscache.NewRefresher(cache, app.api, ref, app.config.Polling.StatusInterval)

	if !cmd.Bool("follow") {
		fmt.Printf("%s\t%s\n", ref, refresher.Refresh(ctx).Label())
		return nil
	}

	var lastMutex sync.Mutex
	var last models.ContainerStatus
	cache.OnChange(func(key string, entry statuscache.Entry) {
		lastMutex.Lock()
		defer lastMutex.Unlock()
		if entry.Status != last {
			last = entry.Status
			fmt.Printf("%s\t%s\t%s\n", entry.UpdatedAt.Format(timeLayout), key, entry.Status.Label())
		}
	})
	refresher.Start(ctx)
	<-ctx.Done()
	refresher.Stop()
	return nil
}

/**
stream the logs of one or more jobs over the push channel until they all finish. Each job is also
polled, which is what notices the end and fills in lines pushed before we subscribed.
*/
func watchAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobIds := cmd.StringSlice("job")
	if cmd.Args().Present() {
		jobIds = append(jobIds, cmd.Args().Slice()...)
	}
	if len(jobIds) == 0 {
		return errors.New("no jobs given, use --job")
	}

	session := newPushSession(app.config, app.store)
	if startErr := session.Start(ctx); startErr != nil {
		return startErr
	}
	defer session.Close()

	printer := newLogPrinter(os.Stdout)
	session.view.OnUpdate(func(job models.Job) {
		printer.PrintNew(job)
	})
	session.router.On(models.ENVELOPE_JOB_LOG_UPDATE, func(env models.Envelope) {
		if update, decodeErr := env.JobLogUpdate(); decodeErr == nil {
			log.Debugf("push for job %s: %s", update.JobId, update.Log.Line)
		}
	})

	poller := app.newPoller(cmd)
	results := make(chan error, len(jobIds))
	for _, jobId := range jobIds {
		session.view.Watch(jobId)
		go func(jobId string) {
			job, waitErr := poller.WaitForCompletion(ctx, jobId, session.view.ApplySnapshot)
			if waitErr == nil {
				fmt.Printf("job %s %s\n", job.Id, job.Status)
			}
			results <- waitErr
		}(jobId)
	}

	var firstErr error
	for range jobIds {
		if waitErr := <-results; waitErr != nil && firstErr == nil {
			firstErr = waitErr
		}
	}
	log.Debugf("topics still open at exit: %v", session.router.Topics())
	return firstErr
}

func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobs, listErr := app.api.ListJobs(ctx)
	if listErr != nil {
		return listErr
	}
	return printJobTable(os.Stdout, jobs)
}

func jobsShowAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobId := cmd.Args().First()
	if jobId == "" {
		return errors.New("no job id given")
	}
	job, getErr := app.api.GetJob(ctx, jobId)
	if getErr != nil {
		return getErr
	}
	if printErr := printJobTable(os.Stdout, []models.Job{*job}); printErr != nil {
		return printErr
	}
	newLogPrinter(os.Stdout).PrintNew(*job)
	return nil
}

func jobsDeleteAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	jobId := cmd.Args().First()
	if jobId == "" {
		return errors.New("no job id given")
	}
	if delErr := app.api.DeleteJob(ctx, jobId); delErr != nil {
		return delErr
	}
	if removeErr := app.store.Remove(jobId); removeErr != nil {
		log.Warnf("WARNING: job %s deleted on the server but not from the local store: %s", jobId, removeErr)
	}
	fmt.Printf("deleted job %s\n", jobId)
	return nil
}

func logsAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ref, refErr := app.containerRef(cmd)
	if refErr != nil {
		return refErr
	}
	logs, logsErr := app.api.ContainerLogs(ctx, ref, int(cmd.Int("tail")))
	if logsErr != nil {
		return logsErr
	}
	fmt.Print(logs)
	return nil
}
