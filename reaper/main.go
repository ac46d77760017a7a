package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
)

type JobDeleter interface {
	DeleteJob(ctx context.Context, jobId string) error
}

func SetupRedis(config *helpers.Config) (*redis.Client, error) {
	log.Printf("Connecting to Redis on %s", config.Redis.Address)
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Address,
		Password: config.Redis.Password,
		DB:       config.Redis.DBNum,
	})

	_, err := client.Ping().Result()
	if err != nil {
		log.Printf("Could not contact Redis: %s", err)
		return nil, err
	}
	log.Printf("Done.")
	return client, nil
}

/**
the time a job last changed, falling back to when it was created
*/
func lastActivity(job *models.Job) time.Time {
	if job.UpdatedAt != 0 {
		return time.Unix(job.UpdatedAt, 0)
	}
	return time.Unix(job.CreatedAt, 0)
}

/**
delete the job from the backend and from the local record store if it finished before the cutoff.
Jobs that are still pending or running are never touched. Returns true if the job was (or, on a dry run,
would have been) removed.
*/
func ProcessJob(ctx context.Context, job *models.Job, cutoffTime time.Time, dryRun bool, deleter JobDeleter, store models.JobStore) (bool, error) {
	if !job.Status.IsTerminal() {
		return false, nil
	}
	if !lastActivity(job).Before(cutoffTime) {
		return false, nil
	}

	if dryRun {
		log.Printf("Would remove old %s job %s (%s)", job.Status, job.Id, job.Name)
		return true, nil
	}

	log.Printf("Removing old %s job %s (%s)", job.Status, job.Id, job.Name)
	err := deleter.DeleteJob(ctx, job.Id)
	if err != nil && !errors.Is(err, apiclient.ErrNotFound) {
		log.Errorf("ERROR: Could not delete job %s: %s", job.Id, err)
		return false, err
	}
	if store != nil {
		if removeErr := store.Remove(job.Id); removeErr != nil {
			log.Errorf("ERROR: Could not remove job %s from the local store: %s", job.Id, removeErr)
			//not a fatal error
		}
	}
	return true, nil
}

func main() {
	maxAgeHours := flag.Int64("maxage", 36, "delete finished jobs that have not changed for longer than this many hours")
	dryRun := flag.Bool("dryrun", true, "don't actually delete anything")
	configFile := flag.String("config", "", "yaml config file")
	envFile := flag.String("env", ".env", "environment file to load before reading config")

	flag.Parse()

	if err := helpers.LoadEnvFile(*envFile); err != nil {
		log.Fatal("Could not load environment file, can't continue")
	}
	log.Printf("Reading config from '%s'", *configFile)
	config, configReadErr := helpers.ReadConfig(*configFile)
	if configReadErr != nil {
		log.Fatal("No configuration, can't continue")
	}
	if err := helpers.SetupLogging(config.Logging); err != nil {
		log.Fatalf("Bad logging configuration: %s", err)
	}
	log.Print("Done.")

	log.Printf("Dryrun is %t", *dryRun)
	var store models.JobStore
	if config.Redis.Address != "" {
		redisClient, redisErr := SetupRedis(config)
		if redisErr != nil {
			log.Fatal("Could not connect to redis")
		}
		defer redisClient.Close()
		store = models.NewRedisJobStore(redisClient)
	}

	client := apiclient.NewClient(config.Api.Base, config.Api.Timeout)
	ctx := context.Background()

	startTime := time.Now()
	log.Printf("Reaping of old jobs starting at %s", startTime)

	cutoffTime := time.Now().Add(-time.Duration(*maxAgeHours) * time.Hour)
	log.Printf("Cutoff time is %s", cutoffTime)

	jobs, listErr := client.ListJobs(ctx)
	if listErr != nil {
		log.Fatalf("ERROR: Could not retrieve jobs: %s", listErr)
	}

	removed := 0
	for i := range jobs {
		didRemove, procErr := ProcessJob(ctx, &jobs[i], cutoffTime, *dryRun, client, store)
		if procErr != nil {
			log.Fatal(procErr)
		}
		if didRemove {
			removed++
		}
	}

	endTime := time.Now()
	log.Printf("Reaping run completed at %s, removed %d of %d jobs in %d seconds", endTime, removed, len(jobs), endTime.Unix()-startTime.Unix())
}
