package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/httpclient"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/overpass"
)

type RedisCfg struct {
	Addr         string
	TTL          time.Duration
	PoolSize     int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

type ElasticCfg struct {
	URL   string
	Index string
}

type KafkaCfg struct {
	Brokers      []string
	Topic        string
	RequestTopic string
	GroupID      string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	ConfigDir      string
	OutputDir      string
	OverpassURL    string
	RequestTimeout time.Duration
	ServerTimeout  int
	MaxRetries     int
	InitialDelay   time.Duration
	RetryLimit     int
	DelayLimit     time.Duration
	H3Res          int
	RunHistory     int
	MetricsFile    string
	Redis          RedisCfg
	Elastic        ElasticCfg
	Kafka          KafkaCfg
}

func FromEnv() Config {
	h3Res := getint("H3_RES", -1)
	if h3Res > 15 {
		h3Res = 15
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		ConfigDir:      getenv("CONFIG_DIR", "config"),
		OutputDir:      getenv("OUTPUT_DIR", "data"),
		OverpassURL:    getenv("OVERPASS_URL", overpass.DefaultEndpoint),
		RequestTimeout: getduration("OVERPASS_REQUEST_TIMEOUT", httpclient.DefaultTimeout),
		ServerTimeout:  int(getduration("OVERPASS_SERVER_TIMEOUT", overpass.DefaultServerTimeout*time.Second) / time.Second),
		MaxRetries:     getint("FETCH_MAX_RETRIES", 3),
		InitialDelay:   getduration("FETCH_INITIAL_DELAY", 10*time.Second),
		RetryLimit:     getint("FETCH_RETRY_LIMIT", 5),
		DelayLimit:     getduration("FETCH_DELAY_LIMIT", 30*time.Second),
		H3Res:          h3Res,
		RunHistory:     getint("RUN_HISTORY", 64),
		MetricsFile:    strings.TrimSpace(os.Getenv("METRICS_TEXTFILE")),
		Redis: RedisCfg{
			Addr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			TTL:          getduration("REDIS_TTL", 0),
			PoolSize:     getint("REDIS_POOL_SIZE", 8),
			DialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			WriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 10*time.Second),
		},
		Elastic: ElasticCfg{
			URL:   strings.TrimSpace(os.Getenv("ELASTIC_URL")),
			Index: getenv("ELASTIC_INDEX", "osm-poi"),
		},
		Kafka: KafkaCfg{
			Brokers:      split(os.Getenv("KAFKA_BROKERS")),
			Topic:        getenv("KAFKA_TOPIC", "poi-datasets"),
			RequestTopic: getenv("KAFKA_REQUEST_TOPIC", "poi-fetch-requests"),
			GroupID:      getenv("KAFKA_GROUP_ID", "poi-fetcher"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
