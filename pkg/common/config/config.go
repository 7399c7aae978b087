package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Agent pipeline
	AgentsDir       string
	DataRoot        string
	PythonBin       string
	AgentTimeout    time.Duration
	AgentMaxOutput  int64
	PipelineWorkers int

	// Snapshot storage
	SnapshotRoot      string
	SnapshotNamespace string
	SnapshotCacheTTL  time.Duration

	// Polling protocol
	PollInterval     time.Duration
	PollMaxAttempts  int
	EvolutionBaseURL string

	// LLM / insight service
	LLMAPIKey    string
	LLMModelName string

	// Reference data
	TerminologyPath  string
	InteractionsPath string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "clinsight"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "clinsight123"),
		PostgresDB:       getEnv("POSTGRES_DB", "clinsight"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "clinsight-platform"),

		AgentsDir:       getEnv("AGENTS_DIR", "./agents"),
		DataRoot:        getEnv("DATA_ROOT", "./data"),
		PythonBin:       getEnv("PYTHON_BIN", "python3"),
		AgentTimeout:    getDuration("AGENT_TIMEOUT", 10*time.Minute),
		AgentMaxOutput:  int64(getIntEnv("AGENT_MAX_OUTPUT_BYTES", 25*1024*1024)),
		PipelineWorkers: getIntEnv("PIPELINE_WORKERS", 2),

		SnapshotRoot:      getEnv("SNAPSHOT_ROOT", "./snapshots"),
		SnapshotNamespace: getEnv("SNAPSHOT_NAMESPACE", "patient-evolution"),
		SnapshotCacheTTL:  getDuration("SNAPSHOT_CACHE_TTL", 10*time.Minute),

		PollInterval:     getDuration("POLL_INTERVAL", 3*time.Second),
		PollMaxAttempts:  getIntEnv("POLL_MAX_ATTEMPTS", 40),
		EvolutionBaseURL: getEnv("EVOLUTION_BASE_URL", "http://localhost:8081"),

		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModelName: getEnv("LLM_MODEL_NAME", "gpt-4o-mini"),

		TerminologyPath:  getEnv("TERMINOLOGY_PATH", ""),
		InteractionsPath: getEnv("INTERACTIONS_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
