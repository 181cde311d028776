package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/railzway-benefits/internal/config"
)

const (
	defaultServiceName = "railzway-benefits"

	// envPrefix scopes overrides to this service when several share a host.
	envPrefix = "BENEFITS_"
)

// Config holds the logging, tracing and metrics settings of the grant engine.
// Every key is read as BENEFITS_<KEY> first and then as the shared
// OpenTelemetry variable where one exists.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	TracingEnabled       bool
	MetricsEnabled       bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	TraceSamplingRatio   float64
}

func LoadConfig(cfg config.Config) Config {
	environment := strings.TrimSpace(lookup("ENV", "DEPLOYMENT_ENV"))
	if environment == "" {
		environment = strings.TrimSpace(cfg.Environment)
	}
	dev := isDevEnv(environment)

	serviceName := strings.TrimSpace(lookup("SERVICE_NAME", "OTEL_SERVICE_NAME"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(cfg.AppName)
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	version := strings.TrimSpace(lookup("VERSION"))
	if version == "" {
		version = strings.TrimSpace(cfg.AppVersion)
	}

	logFormat, defaultRatio := "json", 0.2
	if dev {
		logFormat, defaultRatio = "console", 1
	}

	endpoint := strings.TrimSpace(lookup("OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(cfg.OTLPEndpoint)
	}
	tracing := parseBool(lookup("TRACING_ENABLED", "OTEL_ENABLED"), false)

	return Config{
		ServiceName:           serviceName,
		Environment:           environment,
		Version:               version,
		LogLevel:              normalize(lookup("LOG_LEVEL"), "info"),
		LogFormat:             normalize(lookup("LOG_FORMAT"), logFormat),
		LogSamplingInitial:    parseInt(lookup("LOG_SAMPLING_INITIAL"), 100),
		LogSamplingThereafter: parseInt(lookup("LOG_SAMPLING_THEREAFTER"), 100),
		TracingEnabled:        tracing,
		MetricsEnabled:        parseBool(lookup("METRICS_ENABLED"), tracing),
		OtelExporterEndpoint:  endpoint,
		OtelExporterProtocol:  normalizeProtocol(lookup("OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")),
		TraceSamplingRatio:    clampRatio(parseFloat(lookup("TRACE_SAMPLING_RATIO", "OTEL_TRACES_SAMPLER_ARG"), defaultRatio)),
	}
}

func (c Config) Debug() bool {
	return strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// lookup returns BENEFITS_<first key>, then each remaining key unprefixed.
func lookup(keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	if value := strings.TrimSpace(os.Getenv(envPrefix + keys[0])); value != "" {
		return value
	}
	for _, key := range keys[1:] {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func normalize(value, def string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return def
	}
	return value
}

// normalizeProtocol folds the OTLP protocol spellings onto grpc or http.
func normalizeProtocol(value string) string {
	switch normalize(value, "grpc") {
	case "http", "http/protobuf", "http/json":
		return "http"
	default:
		return "grpc"
	}
}

func parseBool(value string, def bool) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func parseInt(value string, def int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func parseFloat(value string, def float64) float64 {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
