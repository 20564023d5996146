package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Geocoding  GeocodingConfig  `mapstructure:"geocoding"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type BackendConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=memory postgres"`
	DatabaseURL    string        `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	NotifyChannel  string        `mapstructure:"notify_channel" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type KafkaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BrokerList    string `mapstructure:"broker_list" validate:"required_if=Enabled true"`
	LocationTopic string `mapstructure:"location_topic" validate:"required_if=Enabled true"`
}

type GeocodingConfig struct {
	ProviderURL string        `mapstructure:"provider_url" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	ZonesFile   string        `mapstructure:"zones_file"`
}

// ProfileConfig overrides fields of a built-in role profile. Zero values keep
// the preset.
type ProfileConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gte=0"`
	Accuracy    string        `mapstructure:"accuracy" validate:"omitempty,oneof=high balanced low"`
	MinMovement float64       `mapstructure:"min_movement" validate:"gte=0"`
	MaxStale    time.Duration `mapstructure:"max_stale" validate:"gte=0"`
	BufferSize  int           `mapstructure:"buffer_size" validate:"gte=0"`
}

type TrackingConfig struct {
	BatteryThreshold  float64                  `mapstructure:"battery_threshold" validate:"gte=0,lte=1"`
	BatteryFactor     float64                  `mapstructure:"battery_factor" validate:"gte=1"`
	SpeedReference    float64                  `mapstructure:"speed_reference" validate:"gt=0"`
	MinInterval       time.Duration            `mapstructure:"min_interval" validate:"gt=0"`
	MaxInterval       time.Duration            `mapstructure:"max_interval" validate:"gtefield=MinInterval"`
	HeartbeatInterval time.Duration            `mapstructure:"heartbeat_interval" validate:"gt=0"`
	MaxBackoff        time.Duration            `mapstructure:"max_backoff" validate:"gt=0"`
	Profiles          map[string]ProfileConfig `mapstructure:"profiles" validate:"dive"`
}

type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	StaleAfter   time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	AvgSpeedKmh  float64       `mapstructure:"avg_speed_kmh" validate:"gt=0"`
}

type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Destination string `mapstructure:"destination" validate:"oneof=local s3"`
	Path        string `mapstructure:"path"`
	Bucket      string `mapstructure:"bucket" validate:"required_if=Destination s3"`
	Region      string `mapstructure:"region"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type SimulationConfig struct {
	CityLat     float64 `mapstructure:"city_latitude" validate:"gte=-90,lte=90"`
	CityLon     float64 `mapstructure:"city_longitude" validate:"gte=-180,lte=180"`
	UrbanRadius float64 `mapstructure:"urban_radius" validate:"gt=0"` // km
	Speedup     float64 `mapstructure:"speedup" validate:"gte=1"`
	Seed        int64   `mapstructure:"seed"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("backend.driver", "memory")
	v.SetDefault("backend.notify_channel", "kwenda_changes")
	v.SetDefault("backend.request_timeout", "3s")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("kafka.broker_list", "localhost:9092")
	v.SetDefault("kafka.location_topic", "subject_locations")

	v.SetDefault("geocoding.timeout", "3s")
	v.SetDefault("geocoding.cache_ttl", "30m")

	v.SetDefault("tracking.battery_threshold", 0.2)
	v.SetDefault("tracking.battery_factor", 2.0)
	v.SetDefault("tracking.speed_reference", 5.0)
	v.SetDefault("tracking.min_interval", "1s")
	v.SetDefault("tracking.max_interval", "5m")
	v.SetDefault("tracking.heartbeat_interval", "20s")
	v.SetDefault("tracking.max_backoff", "30s")

	v.SetDefault("sync.poll_interval", "5s")
	v.SetDefault("sync.stale_after", "30s")
	v.SetDefault("sync.avg_speed_kmh", 30.0)

	v.SetDefault("archive.destination", "local")
	v.SetDefault("archive.path", "archive")

	v.SetDefault("metrics.addr", ":9090")

	// Kinshasa, Gombe
	v.SetDefault("simulation.city_latitude", -4.3087)
	v.SetDefault("simulation.city_longitude", 15.3032)
	v.SetDefault("simulation.urban_radius", 8.0)
	v.SetDefault("simulation.speedup", 10.0)
	v.SetDefault("simulation.seed", 42)
}

// LoadConfig initializes and reads the configuration using the global Viper
// instance, so flags bound by the CLI take part.
func LoadConfig(cfgFile string) (*Config, error) {
	return LoadConfigFrom(viper.GetViper(), cfgFile)
}

func LoadConfigFrom(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.SetConfigName("kwenda")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("KWENDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Brokers splits the comma separated broker list.
func (k KafkaConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(k.BrokerList, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
