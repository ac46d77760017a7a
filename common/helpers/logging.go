package helpers

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func SetupLogging(conf LoggingConfig) error {
	level := log.InfoLevel
	if conf.Level != "" {
		parsed, err := log.ParseLevel(conf.Level)
		if err != nil {
			log.Errorf("Invalid log level '%s': %s", conf.Level, err)
			return err
		}
		level = parsed
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch conf.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
