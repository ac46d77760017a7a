package main

import (
	"errors"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/jobpoller"
	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const breakerCooldown = 30 * time.Second

type appContext struct {
	config      *helpers.Config
	api         *apiclient.Client
	redisClient *redis.Client
	store       models.JobStore
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
read config and logging settings from the global flags and build the REST client and job store.
Job records go to redis when an address is configured and stay in memory otherwise.
*/
func newAppContext(cmd *cli.Command) (*appContext, error) {
	if err := helpers.LoadEnvFile(cmd.String("env")); err != nil {
		return nil, err
	}

	config, configErr := helpers.ReadConfig(cmd.String("config"))
	if configErr != nil {
		return nil, configErr
	}
	if level := cmd.String("loglevel"); level != "" {
		config.Logging.Level = level
	}
	if project := cmd.String("project"); project != "" {
		config.Project = project
	}
	if err := helpers.SetupLogging(config.Logging); err != nil {
		return nil, err
	}

	app := &appContext{
		config: config,
		api:    apiclient.NewClient(config.Api.Base, config.Api.Timeout, apiclient.WithBreaker(config.Api.BreakerThreshold, breakerCooldown)),
	}

	if config.Redis.Address != "" {
		redisClient, redisErr := SetupRedis(config)
		if redisErr != nil {
			return nil, redisErr
		}
		app.redisClient = redisClient
		app.store = models.NewRedisJobStore(redisClient)
	} else {
		app.store = models.NewMemoryJobStore()
	}
	return app, nil
}

func (a *appContext) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			log.Warnf("WARNING: could not close redis connection: %s", err)
		}
	}
}

func (a *appContext) containerRef(cmd *cli.Command) (apiclient.ContainerRef, error) {
	containerId := cmd.String("container")
	if containerId == "" {
		containerId = cmd.Args().First()
	}
	if containerId == "" {
		return apiclient.ContainerRef{}, errors.New("no container given, use --container")
	}
	return apiclient.ContainerRef{ProjectId: a.config.Project, ContainerId: containerId}, nil
}

/**
--timeout on the command line wins over polling.jobtimeout from the config
*/
func (a *appContext) newPoller(cmd *cli.Command) *jobpoller.Poller {
	timeout := a.config.Polling.JobTimeout
	if cmd.IsSet("timeout") {
		timeout = cmd.Duration("timeout")
	}
	return jobpoller.New(a.api, jobpoller.Options{
		Interval: a.config.Polling.JobInterval,
		Timeout:  timeout,
	})
}
