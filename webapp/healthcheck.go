package main

import (
	"net/http"

	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/go-redis/redis/v7"
	log "github.com/sirupsen/logrus"
)

type HealthcheckHandler struct {
	redisClient *redis.Client
}

func (h HealthcheckHandler) ServeHTTP(w http.ResponseWriter, request *http.Request) {
	if h.redisClient == nil {
		w.WriteHeader(200)
		return
	}

	_, err := h.redisClient.Ping().Result()
	if err == nil {
		w.WriteHeader(200)
	} else {
		log.Errorf("HEALTHCHECK FAILED: %s connecting to Redis", err)
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Error: "could not contact redis db"}, w, 500)
	}
}
