package main

import (
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/webapp/backend"
	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
)

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
parse "project/container=name,container=name" into refs. A missing name uses the container id.
*/
func parseContainerList(list string) map[apiclient.ContainerRef]string {
	rtn := make(map[apiclient.ContainerRef]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idPart, name := entry, ""
		if eq := strings.Index(entry, "="); eq >= 0 {
			idPart, name = entry[:eq], entry[eq+1:]
		}
		var ref apiclient.ContainerRef
		if slash := strings.Index(idPart, "/"); slash >= 0 {
			ref = apiclient.ContainerRef{ProjectId: idPart[:slash], ContainerId: idPart[slash+1:]}
		} else {
			ref = apiclient.ContainerRef{ContainerId: idPart}
		}
		if name == "" {
			name = ref.ContainerId
		}
		rtn[ref] = name
	}
	return rtn
}

func main() {
	listenAddr := flag.String("listen", ":8888", "address to serve on")
	configFile := flag.String("config", "", "yaml config file")
	envFile := flag.String("env", ".env", "environment file to load before reading config")
	stepDelay := flag.Duration("step", backend.DEFAULT_STEP_DELAY, "how long each stage of a simulated job takes")
	containers := flag.String("containers", "1/1=web,1/2=db", "containers to simulate, as project/container=name pairs")
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

	var store models.JobStore
	var redisClient *redis.Client
	if config.Redis.Address != "" {
		var redisErr error
		redisClient, redisErr = SetupRedis(config)
		if redisErr != nil {
			log.Fatal("Could not connect to redis")
		}
		store = models.NewRedisJobStore(redisClient)
	} else {
		store = models.NewMemoryJobStore()
	}

	hub := backend.NewHub()
	sim := backend.NewBackend(store, hub, *stepDelay)
	for ref, name := range parseContainerList(*containers) {
		sim.AddContainer(ref, name, models.CONTAINER_EXITED)
		log.Printf("Simulating container %s (%s)", ref, name)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthcheck", HealthcheckHandler{redisClient: redisClient})
	backend.NewEndpoints(sim, hub).WireUp(mux, "/api", "/ws")

	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Starting server on %s", *listenAddr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
