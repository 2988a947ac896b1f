package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultScope = "/coordination/allocation/"

	TransportPubsub = "pubsub"
	TransportRedis  = "redis"
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

type Config struct {
	Scope     string
	Transport string

	PubsubTopic     string
	Subscription    string
	GoogleProjectID string
	CredentialsFile string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	SchedulingTimeout time.Duration
	TieBreak          string
	MetricsPort       int
	LogLevel          string

	EstimationStore string
	EstimationFile  string
}

func Load() *Config {
	cfg := &Config{
		Scope:             strings.TrimSpace(getEnv("SCOPE_ALLOCATION", DefaultScope)),
		Transport:         strings.ToLower(strings.TrimSpace(getEnv("ALLOCATOR_TRANSPORT", TransportMemory))),
		Subscription:      strings.TrimSpace(os.Getenv("ALLOCATOR_PUBSUB_SUBSCRIPTION")),
		PubsubTopic:       strings.TrimSpace(os.Getenv("ALLOCATOR_PUBSUB_TOPIC")),
		CredentialsFile:   strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("ALLOCATOR_GSA_CREDENTIALS"))),
		RedisAddr:         strings.TrimSpace(getEnv("ALLOCATOR_REDIS_ADDR", "localhost:6379")),
		RedisPassword:     os.Getenv("ALLOCATOR_REDIS_PASSWORD"),
		RedisDB:           getEnvInt("ALLOCATOR_REDIS_DB", 0),
		KafkaBrokers:      splitList(os.Getenv("ALLOCATOR_KAFKA_BROKERS")),
		KafkaTopic:        strings.TrimSpace(getEnv("ALLOCATOR_KAFKA_TOPIC", "allocations")),
		SchedulingTimeout: getEnvDuration("ALLOCATOR_SCHEDULING_TIMEOUT", 2*time.Second),
		TieBreak:          strings.TrimSpace(getEnv("ALLOCATOR_TIE_BREAK", "initiator")),
		MetricsPort:       getEnvInt("ALLOCATOR_METRICS_PORT", 8080),
		LogLevel:          strings.TrimSpace(getEnv("ALLOCATOR_LOG_LEVEL", "info")),
		EstimationStore:   strings.ToLower(strings.TrimSpace(getEnv("ALLOCATOR_ESTIMATION_STORE", "none"))),
		EstimationFile:    strings.TrimSpace(getEnv("ALLOCATOR_ESTIMATION_FILE", "defaults.yaml")),
	}

	if cfg.Transport == TransportPubsub {
		cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("ALLOCATOR_PUBSUB_PROJECT_ID", "")))
		if cfg.GoogleProjectID == "" {
			log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or ALLOCATOR_PUBSUB_PROJECT_ID")
		}
		if cfg.Subscription == "" {
			log.Warn().Msg("Pub/Sub subscription not set; set ALLOCATOR_PUBSUB_SUBSCRIPTION")
		}
		if cfg.PubsubTopic == "" {
			log.Warn().Msg("Pub/Sub topic not set; set ALLOCATOR_PUBSUB_TOPIC")
		}
	}
	return cfg
}

// Validate reports the first setting missing for the selected transport.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportPubsub:
		if c.GoogleProjectID == "" {
			return errors.New("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or ALLOCATOR_PUBSUB_PROJECT_ID")
		}
		if c.Subscription == "" {
			return errors.New("missing Pub/Sub subscription; set ALLOCATOR_PUBSUB_SUBSCRIPTION")
		}
		if c.PubsubTopic == "" {
			return errors.New("missing Pub/Sub topic; set ALLOCATOR_PUBSUB_TOPIC")
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			return errors.New("missing Redis address; set ALLOCATOR_REDIS_ADDR")
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("missing Kafka brokers; set ALLOCATOR_KAFKA_BROKERS")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("unknown transport %q; set ALLOCATOR_TRANSPORT to pubsub, redis, kafka or memory", c.Transport)
	}
	switch c.EstimationStore {
	case "none", "redis", "file":
	default:
		return fmt.Errorf("unknown estimation store %q", c.EstimationStore)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"scope":               c.Scope,
		"transport":           c.Transport,
		"projectID":           c.GoogleProjectID,
		"subscription":        c.Subscription,
		"topic":               c.PubsubTopic,
		"redisAddr":           c.RedisAddr,
		"redisPasswordSet":    c.RedisPassword != "",
		"kafkaBrokers":        c.KafkaBrokers,
		"kafkaTopic":          c.KafkaTopic,
		"schedulingTimeout":   c.SchedulingTimeout.String(),
		"tieBreak":            c.TieBreak,
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"estimationStore":     c.EstimationStore,
		"credentialsProvided": c.CredentialsFile != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid int in environment; using default")
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment; using default")
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", nil
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		log.Info().Str("credsFile", p).Msg("GOOGLE_APPLICATION_CREDENTIALS is set; extracting project_id from credentials file")
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override from allocator env
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using ALLOCATOR_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 3) External override
	if v := strings.TrimSpace(os.Getenv("GOOGLE_PROJECT_ID")); v != "" {
		log.Info().Str("projectID", v).Msg("using GOOGLE_PROJECT_ID from environment")
		return v
	}

	// 4) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}

	// 5) Fallback to provided credentials file path (ALLOCATOR_GSA_CREDENTIALS)
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
