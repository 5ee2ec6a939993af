// Package config loads process configuration from .env and the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"codetutor-exec/dispatcher"
	"codetutor-exec/executor"
)

// executorEnv names the <NAME>_EXECUTOR_URL variable overriding each
// language's worker address.
var executorEnv = map[string]string{
	"python":                "PYTHON",
	"java":                  "JAVA",
	"kotlin":                "KOTLIN",
	"rust":                  "RUST",
	"csharp":                "CSHARP",
	"javascript":            "JAVASCRIPT",
	"javascript-typescript": "JAVASCRIPT",
	"typescript":            "TYPESCRIPT",
	"flutter":               "FLUTTER",
	"dart":                  "FLUTTER",
}

// Config is the gateway configuration.
type Config struct {
	Port        string
	Environment string

	NatsURL     string
	NatsSubject string

	DispatchTimeout    time.Duration
	// WorkerBudget bounds one request on a backend. The dispatch deadline is
	// extended to it when it exceeds DispatchTimeout.
	WorkerBudget       dispatcher.Budget
	CompiledLanguages  []string
	ExecutorURLs       map[string]string
	DelegatedLanguages []string
	PistonURL          string
	PistonRuntimesFile string

	KafkaBrokers      []string
	KafkaResultsTopic string

	// KafkaRequestsTopic enables the Kafka request consumer when set.
	KafkaRequestsTopic string
	KafkaGroupID       string
	KafkaMaxParallel   int

	BetterStackUploadURL   string
	BetterStackSourceToken string
}

// WorkerConfig is shared by the worker processes.
type WorkerConfig struct {
	Port        string
	Environment string

	ExecutionTimeout time.Duration
	CompileTimeout   time.Duration
	MaxOutputLength  int
	MaxWorkers       int
	MaxJobs          int
	MemoryLimitMB    int
	NanoCPUs         int64
	PidsLimit        int64

	CSharpImage       string
	JavaImage         string
	CompiledLanguages []string
	ContainerLogPath  string
}

func loadDotEnv() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
}

// LoadConfig reads the gateway configuration.
func LoadConfig() Config {
	loadDotEnv()

	urls := dispatcher.DefaultExecutorURLs()
	for language, name := range executorEnv {
		urls[language] = getEnv(name+"_EXECUTOR_URL", urls[language])
	}

	return Config{
		Port:        getEnv("PORT", ":3001"),
		Environment: getEnv("ENVIRONMENT", "development"),

		NatsURL:     getEnv("NATSURL", ""),
		NatsSubject: getEnv("NATS_SUBJECT", "compiler.execute.request"),

		DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", dispatcher.DefaultTimeout),
		WorkerBudget: dispatcher.Budget{
			Compile:  getEnvDuration("WORKER_COMPILE_TIMEOUT", executor.DefaultCompileTimeout),
			Run:      getEnvDuration("WORKER_EXECUTION_TIMEOUT", executor.DefaultExecutionTimeout),
			Overhead: getEnvDuration("DISPATCH_OVERHEAD", dispatcher.DefaultOverhead),
		},
		CompiledLanguages:  getEnvList("WORKER_COMPILED_LANGUAGES", dispatcher.DefaultCompiledLanguages),
		ExecutorURLs:       urls,
		DelegatedLanguages: getEnvList("DELEGATED_LANGUAGES", dispatcher.DefaultDelegatedLanguages),
		PistonURL:          getEnv("PISTON_URL", "http://localhost:2000"),
		PistonRuntimesFile: getEnv("PISTON_RUNTIMES_FILE", ""),

		KafkaBrokers:       getEnvList("KAFKA_BROKERS", nil),
		KafkaResultsTopic:  getEnv("KAFKA_RESULTS_TOPIC", "execution-results"),
		KafkaRequestsTopic: getEnv("KAFKA_REQUESTS_TOPIC", ""),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "codetutor-exec"),
		KafkaMaxParallel:   getEnvInt("KAFKA_MAX_PARALLEL", 4),

		BetterStackUploadURL:   getEnv("BETTERSTACKUPLOADURL", ""),
		BetterStackSourceToken: getEnv("BETTERSTACKSOURCETOKEN", ""),
	}
}

// LoadWorkerConfig reads a worker's configuration. defaultPort applies when
// PORT is unset.
func LoadWorkerConfig(defaultPort string) WorkerConfig {
	loadDotEnv()

	return WorkerConfig{
		Port:        getEnv("PORT", defaultPort),
		Environment: getEnv("ENVIRONMENT", "development"),

		ExecutionTimeout: getEnvDuration("EXECUTION_TIMEOUT", executor.DefaultExecutionTimeout),
		CompileTimeout:   getEnvDuration("COMPILE_TIMEOUT", executor.DefaultCompileTimeout),
		MaxOutputLength:  getEnvInt("MAX_OUTPUT_LENGTH", 10000),
		MaxWorkers:       getEnvInt("MAX_WORKERS", 2),
		MaxJobs:          getEnvInt("MAX_JOBS", 8),
		MemoryLimitMB:    getEnvInt("MEMORY_LIMIT_MB", 256),
		NanoCPUs:         int64(getEnvInt("NANO_CPUS", 1_000_000_000)),
		PidsLimit:        int64(getEnvInt("PIDS_LIMIT", 64)),

		CSharpImage:       getEnv("CSHARP_IMAGE", ""),
		JavaImage:         getEnv("JAVA_IMAGE", ""),
		CompiledLanguages: getEnvList("COMPILED_LANGUAGES", []string{"csharp"}),
		ContainerLogPath:  getEnv("CONTAINER_LOG_PATH", "logs/container.log"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or bare milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToLower(item))
		}
	}
	return out
}
