package tracking

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DedupWindowMinutes int `envconfig:"ERROR_DEDUP_WINDOW_MINUTES" default:"60"`
	StatsLimit         int `envconfig:"ERROR_STATS_LIMIT" default:"1000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
