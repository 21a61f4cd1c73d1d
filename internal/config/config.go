package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the privacy-rights service:
// the Baton HTTP surface, the OpenDSR upstream, the deletion queue worker and
// the results object store.
type Config struct {
	App      AppConfig
	Kafka    KafkaConfig
	Retry    RetryConfig
	OpenDSR  OpenDSRConfig
	Trust    TrustConfig
	Storage  StorageConfig
	Braze    BrazeConfig
	Deletion DeletionAPIConfig
	Timeouts TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// KafkaConfig defines broker information plus the deletion queue topics.
type KafkaConfig struct {
	Brokers       []string
	RequestTopic  string
	StatusTopic   string
	DLQTopic      string
	ConsumerGroup string
}

// RetryConfig controls deletion worker redelivery behaviour. MaxAttempts is
// the receive-count threshold after which a message dead-letters.
type RetryConfig struct {
	MaxAttempts       int
	WorkerConcurrency int
	MsgMaxBytes       int
}

// OpenDSRConfig stores workspace credentials and routing for the upstream
// subject-request API. Pod selects the regional deployment; explicit URLs
// override the pod-derived defaults.
type OpenDSRConfig struct {
	Pod             string
	BaseURL         string
	EventsBaseURL   string
	WorkspaceKey    string
	WorkspaceSecret string
}

// TrustConfig lists the processor domains whose callbacks we accept.
type TrustConfig struct {
	AllowedProcessorDomains []string
}

// StorageConfig identifies the bucket where exported results are staged.
type StorageConfig struct {
	Bucket    string
	Region    string
	KeyPrefix string
}

// BrazeConfig stores credentials for the secondary deletion API.
type BrazeConfig struct {
	BaseURL string
	APIKey  string
}

// DeletionAPIConfig stores credentials for the primary deletion API.
type DeletionAPIConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// TimeoutConfig contains timeout thresholds for outbound HTTP calls.
type TimeoutConfig struct {
	HTTPTimeoutSeconds int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.RequestTopic = ldr.getString("KAFKA_DELETION_REQUEST_TOPIC", "", true)
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_DELETION_STATUS_TOPIC", "", true)
	cfg.Kafka.DLQTopic = ldr.getString("KAFKA_DELETION_DLQ_TOPIC", "", true)
	cfg.Kafka.ConsumerGroup = ldr.getString("DELETION_CONSUMER_GROUP", "", true)

	cfg.Retry.MaxAttempts = ldr.getInt("DELETION_MAX_ATTEMPTS", 5, false)
	cfg.Retry.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Retry.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 65536, false)

	cfg.OpenDSR.Pod = ldr.getString("OPENDSR_POD", "us1", false)
	cfg.OpenDSR.BaseURL = ldr.getString("OPENDSR_BASE_URL", "", false)
	cfg.OpenDSR.EventsBaseURL = ldr.getString("OPENDSR_EVENTS_BASE_URL", "", false)
	cfg.OpenDSR.WorkspaceKey = ldr.getString("OPENDSR_WORKSPACE_KEY", "", true)
	cfg.OpenDSR.WorkspaceSecret = ldr.getString("OPENDSR_WORKSPACE_SECRET", "", true)
	if cfg.OpenDSR.BaseURL == "" {
		cfg.OpenDSR.BaseURL = fmt.Sprintf("https://opendsr.%s.mparticle.com/v3", cfg.OpenDSR.Pod)
	}
	if cfg.OpenDSR.EventsBaseURL == "" {
		cfg.OpenDSR.EventsBaseURL = fmt.Sprintf("https://s2s.%s.mparticle.com/v2", cfg.OpenDSR.Pod)
	}

	cfg.Trust.AllowedProcessorDomains = ldr.getStringSlice("TRUSTED_PROCESSOR_DOMAINS", false)
	if len(cfg.Trust.AllowedProcessorDomains) == 0 {
		cfg.Trust.AllowedProcessorDomains = []string{"opendsr.mparticle.com"}
	}

	cfg.Storage.Bucket = ldr.getString("RESULTS_BUCKET", "", true)
	cfg.Storage.Region = ldr.getString("RESULTS_REGION", "us-east-1", false)
	cfg.Storage.KeyPrefix = ldr.getString("RESULTS_KEY_PREFIX", "results", false)

	cfg.Braze.BaseURL = ldr.getString("BRAZE_BASE_URL", "https://rest.iad-01.braze.com", false)
	cfg.Braze.APIKey = ldr.getString("BRAZE_API_KEY", "", true)

	cfg.Deletion.BaseURL = ldr.getString("MPARTICLE_DELETION_BASE_URL", "", true)
	cfg.Deletion.APIKey = ldr.getString("MPARTICLE_DELETION_API_KEY", "", true)
	cfg.Deletion.APISecret = ldr.getString("MPARTICLE_DELETION_API_SECRET", "", true)

	cfg.Timeouts.HTTPTimeoutSeconds = ldr.getInt("HTTP_TIMEOUT_SECONDS", 30, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
