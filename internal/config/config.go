package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"
)

// defaultYearSpan is how many archive years are processed when YEARS is unset,
// the current year included.
const defaultYearSpan = 5

// Config holds all service settings, populated from environment variables.
type Config struct {
	BronzeDir        string
	SilverDir        string
	GoldDir          string
	BronzeFileFilter string

	Years  []int
	Stages []domain.Dataset

	SourceLocation *time.Location
	TargetLocation *time.Location
	SentinelValues []string

	PartitionWorkers int
	SkipUnchanged    bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// ServeAfterRun keeps the HTTP endpoints up after the run until the
	// process is signaled.
	ServeAfterRun bool

	// Publication notices.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaNotifyTopic string

	// Input fingerprint checkpoints. Required by SkipUnchanged.
	RedisURL string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	return LoadWithClock(clockwork.NewRealClock())
}

// LoadWithClock is Load with the clock used to derive the default year window.
func LoadWithClock(clock clockwork.Clock) (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	years, err := parseYears(os.Getenv("YEARS"), clock.Now().Year())
	if err != nil {
		return nil, err
	}

	stages, err := parseStages(sharedcfg.EnvOrDefault("STAGES", "silver,gold"))
	if err != nil {
		return nil, err
	}

	source, err := loadLocation("SOURCE_TIMEZONE", "UTC")
	if err != nil {
		return nil, err
	}
	target, err := loadLocation("TARGET_TIMEZONE", "America/Fortaleza")
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("PARTITION_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	skipUnchanged, err := parseBool("SKIP_UNCHANGED", false)
	if err != nil {
		return nil, err
	}
	serveAfterRun, err := parseBool("SERVE_AFTER_RUN", false)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BronzeDir:        sharedcfg.EnvOrDefault("BRONZE_DIR", "data/bronze"),
		SilverDir:        sharedcfg.EnvOrDefault("SILVER_DIR", "data/silver"),
		GoldDir:          sharedcfg.EnvOrDefault("GOLD_DIR", "data/gold"),
		BronzeFileFilter: os.Getenv("BRONZE_FILE_FILTER"),
		Years:            years,
		Stages:           stages,
		SourceLocation:   source,
		TargetLocation:   target,
		SentinelValues:   parseList(sharedcfg.EnvOrDefault("SENTINEL_VALUES", "---,-9999,-9999.0")),
		PartitionWorkers: workers,
		SkipUnchanged:    skipUnchanged,
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		ServeAfterRun:    serveAfterRun,
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaNotifyTopic: sharedcfg.EnvOrDefault("KAFKA_NOTIFY_TOPIC", "inmet-partitions-published"),
		RedisURL:         os.Getenv("REDIS_URL"),
	}

	if cfg.BronzeDir == "" || cfg.SilverDir == "" || cfg.GoldDir == "" {
		return nil, errors.New("BRONZE_DIR, SILVER_DIR and GOLD_DIR are required")
	}
	if len(cfg.SentinelValues) == 0 {
		return nil, errors.New("SENTINEL_VALUES must list at least one value")
	}
	if cfg.SkipUnchanged && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when SKIP_UNCHANGED is true")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaNotifyTopic == "" {
		return nil, errors.New("KAFKA_NOTIFY_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// parseYears accepts a comma-separated list of years and ranges, e.g.
// "2019-2021,2023". An empty value selects the last five years.
func parseYears(s string, currentYear int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		years := make([]int, 0, defaultYearSpan)
		for y := currentYear - defaultYearSpan + 1; y <= currentYear; y++ {
			years = append(years, y)
		}
		return years, nil
	}

	seen := make(map[int]struct{})
	for _, part := range parseList(s) {
		from, to, isRange := strings.Cut(part, "-")
		first, err := parseYear(from)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = parseYear(to); err != nil {
				return nil, err
			}
		}
		if last < first {
			return nil, fmt.Errorf("invalid YEARS range %q", part)
		}
		for y := first; y <= last; y++ {
			seen[y] = struct{}{}
		}
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || y < 1900 || y > 9999 {
		return 0, fmt.Errorf("invalid YEARS value %q", s)
	}
	return y, nil
}

func parseStages(s string) ([]domain.Dataset, error) {
	var stages []domain.Dataset
	for _, v := range parseList(s) {
		switch st := domain.Dataset(strings.ToLower(v)); st {
		case domain.DatasetSilver, domain.DatasetGold:
			stages = append(stages, st)
		default:
			return nil, fmt.Errorf("invalid STAGES value %q", v)
		}
	}
	if len(stages) == 0 {
		return nil, errors.New("STAGES must select at least one stage")
	}
	return stages, nil
}

func loadLocation(key, def string) (*time.Location, error) {
	name := sharedcfg.EnvOrDefault(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return loc, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
