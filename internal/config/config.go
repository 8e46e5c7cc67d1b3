// Package config loads the trending engine's runtime settings from layered
// sources (defaults, an optional YAML file, then environment variables),
// grounded on core.LoadConfig's env-with-defaults shape, replaced with a
// real layered loader since the spec's configuration surface (windows,
// categories, capacities, transports) is wider than a flat env-var struct
// comfortably covers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// WindowConfig mirrors model.WindowDef in a config-file-friendly shape.
type WindowConfig struct {
	Name        string        `koanf:"name"`
	Duration    time.Duration `koanf:"duration"`
	BucketWidth time.Duration `koanf:"bucket_width"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	ListenAddress string         `koanf:"listen_address"`
	DataDir       string         `koanf:"data_dir"`
	LogLevel      string         `koanf:"log_level"`

	Windows    []WindowConfig `koanf:"windows"`
	Categories []string       `koanf:"categories"`
	Capacity   int            `koanf:"capacity"`

	RefreshInterval    time.Duration `koanf:"refresh_interval"`
	IdempotencyTTL     time.Duration `koanf:"idempotency_ttl"`
	IdempotencyMaxKeys int64         `koanf:"idempotency_max_keys"`
	IngestQueueSize    int           `koanf:"ingest_queue_size"`
	IngestWorkers      int           `koanf:"ingest_workers"`
	MailboxSize        int           `koanf:"mailbox_size"`

	// MaxEventSkew bounds how far into the past an event's occurred_at may
	// lag the ingest clock before it is rejected. Zero means "derive from
	// the longest configured window" (the spec's window_max default).
	MaxEventSkew time.Duration `koanf:"max_event_skew"`
	// SmallFuture bounds how far into the future occurred_at may lead the
	// ingest clock, tolerating producer/consumer clock drift.
	SmallFuture time.Duration `koanf:"small_future"`

	// SnapshotPersistEveryNTicks persists a board's snapshot to the
	// snapshot store only once every N refresh ticks (1 persists every
	// tick).
	SnapshotPersistEveryNTicks int `koanf:"snapshot_persist_every_n_ticks"`
	// SnapshotRetentionGenerations bounds how many past generations per
	// board the snapshot store keeps before pruning the oldest.
	SnapshotRetentionGenerations int `koanf:"snapshot_retention_generations"`

	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
	KafkaGroupID string   `koanf:"kafka_group_id"`
}

func defaults() Config {
	return Config{
		ListenAddress: ":8090",
		DataDir:       "/data",
		LogLevel:      "INFO",
		Windows: []WindowConfig{
			{Name: "5m", Duration: 5 * time.Minute, BucketWidth: time.Minute},
			{Name: "1h", Duration: time.Hour, BucketWidth: time.Minute},
			{Name: "24h", Duration: 24 * time.Hour, BucketWidth: 5 * time.Minute},
		},
		Categories:                   []string{"ALL"},
		Capacity:                     50,
		RefreshInterval:              5 * time.Second,
		IdempotencyTTL:               2 * time.Minute,
		IdempotencyMaxKeys:           1_000_000,
		IngestQueueSize:              10_000,
		IngestWorkers:                4,
		MailboxSize:                  16,
		MaxEventSkew:                 0, // derived from the longest configured window, below
		SmallFuture:                  5 * time.Second,
		SnapshotPersistEveryNTicks:   1,
		SnapshotRetentionGenerations: 20,
		KafkaBrokers:                 []string{"localhost:9092"},
		KafkaTopic:                   "video-view-events",
		KafkaGroupID:                 "trending-engine",
	}
}

// Load builds the Config by layering, in increasing priority: built-in
// defaults, an optional YAML file at path (skipped if path is empty; a path
// that cannot be read is an error), then TRENDING_-prefixed environment
// variables.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	def := defaults()
	defMap := map[string]any{
		"listen_address":                 def.ListenAddress,
		"data_dir":                       def.DataDir,
		"log_level":                      def.LogLevel,
		"categories":                     def.Categories,
		"capacity":                       def.Capacity,
		"refresh_interval":               def.RefreshInterval,
		"idempotency_ttl":                def.IdempotencyTTL,
		"idempotency_max_keys":           def.IdempotencyMaxKeys,
		"ingest_queue_size":              def.IngestQueueSize,
		"ingest_workers":                 def.IngestWorkers,
		"mailbox_size":                   def.MailboxSize,
		"max_event_skew":                 def.MaxEventSkew,
		"small_future":                   def.SmallFuture,
		"snapshot_persist_every_n_ticks":  def.SnapshotPersistEveryNTicks,
		"snapshot_retention_generations":  def.SnapshotRetentionGenerations,
		"kafka_brokers":                  def.KafkaBrokers,
		"kafka_topic":                    def.KafkaTopic,
		"kafka_group_id":                 def.KafkaGroupID,
	}
	if err := k.Load(confmap.Provider(defMap, "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("TRENDING_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TRENDING_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var out Config
	out.Windows = def.Windows // windows are not env-overridable; only via file
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(out.Windows) == 0 {
		out.Windows = def.Windows
	}
	out.Categories = withAllCategory(out.Categories)

	if out.MaxEventSkew <= 0 {
		var windowMax time.Duration
		for _, w := range out.Windows {
			if w.Duration > windowMax {
				windowMax = w.Duration
			}
		}
		out.MaxEventSkew = windowMax
	}
	return out, nil
}

// withAllCategory returns categories with "ALL" present exactly once,
// appended if the operator's configured set omitted it. The specification
// requires ALL to be implicitly present regardless of what is configured.
func withAllCategory(categories []string) []string {
	for _, c := range categories {
		if strings.EqualFold(c, "ALL") {
			return categories
		}
	}
	return append(categories, "ALL")
}
