package helpers

import (
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type ApiConfig struct {
	Base    string        `yaml:"base"`
	Timeout time.Duration `yaml:"timeout"`
	//number of consecutive failures before REST calls are short-circuited, 0 disables the breaker
	BreakerThreshold uint32 `yaml:"breakerThreshold"`
}

type PushConfig struct {
	Url        string        `yaml:"url"`
	Reconnect  bool          `yaml:"reconnect"`
	MaxBackoff time.Duration `yaml:"maxbackoff"`
}

type PollingConfig struct {
	JobInterval    time.Duration `yaml:"jobinterval"`
	StatusInterval time.Duration `yaml:"statusinterval"`
	JobTimeout     time.Duration `yaml:"jobtimeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DBNum    int    `yaml:"dbNum"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Api     ApiConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Polling PollingConfig `yaml:"polling"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
	Project string        `yaml:"project"`
}

/**
the reference values the dashboard runs with
*/
func DefaultConfig() *Config {
	return &Config{
		Api: ApiConfig{
			Base:    "http://localhost:8888/api",
			Timeout: 5 * time.Second,
		},
		Push: PushConfig{
			Url:        "ws://localhost:8888/ws",
			MaxBackoff: 30 * time.Second,
		},
		Polling: PollingConfig{
			JobInterval:    2 * time.Second,
			StatusInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

/**
read config from the given yaml file on top of the defaults. An empty path gives just the defaults
plus environment overrides.
*/
func ReadConfig(configFile string) (*Config, error) {
	conf := DefaultConfig()

	if configFile != "" {
		configBytes, readErr := ioutil.ReadFile(configFile)
		if readErr != nil {
			log.Errorf("Could not read config from '%s': %s", configFile, readErr)
			return nil, readErr
		}

		err := yaml.Unmarshal(configBytes, conf)
		if err != nil {
			log.Errorf("Could not understand config from '%s': %s", configFile, err)
			return nil, err
		}
	}

	applyEnvOverrides(conf)
	return conf, nil
}

/**
load a .env file into the process environment if it exists. A missing file is not an error.
*/
func LoadEnvFile(envFile string) error {
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if err != nil && !os.IsNotExist(err) {
		log.Errorf("Could not load env file '%s': %s", envFile, err)
		return err
	}
	return nil
}

func applyEnvOverrides(conf *Config) {
	if v := os.Getenv("JOBWATCH_API_BASE"); v != "" {
		conf.Api.Base = v
	}
	if v := os.Getenv("JOBWATCH_WS_URL"); v != "" {
		conf.Push.Url = v
	}
	if v := os.Getenv("JOBWATCH_REDIS_ADDRESS"); v != "" {
		conf.Redis.Address = v
	}
	if v := os.Getenv("JOBWATCH_LOG_LEVEL"); v != "" {
		conf.Logging.Level = v
	}
	if v := os.Getenv("JOBWATCH_PROJECT"); v != "" {
		conf.Project = v
	}
	if v := os.Getenv("JOBWATCH_JOB_TIMEOUT"); v != "" {
		timeout, parseErr := time.ParseDuration(v)
		if parseErr != nil {
			secs, intErr := strconv.ParseInt(v, 10, 64)
			if intErr != nil {
				log.Warnf("WARNING: ignoring invalid JOBWATCH_JOB_TIMEOUT '%s'", v)
				return
			}
			timeout = time.Duration(secs) * time.Second
		}
		conf.Polling.JobTimeout = timeout
	}
}
