package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/ssr-builder/internal/discover"
)

// Config represents the builder configuration
type Config struct {
	Build   BuildConfig   `mapstructure:"build"`
	Storage StorageConfig `mapstructure:"storage"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Debug   bool          `mapstructure:"debug"`
}

// BuildConfig contains the packaging pipeline settings
type BuildConfig struct {
	MaxPackageSize   int64    `mapstructure:"max_package_size"` // bytes, per handler
	Concurrency      int      `mapstructure:"concurrency"`      // parallel handler packaging
	Runtime          string   `mapstructure:"runtime"`
	Handler          string   `mapstructure:"handler"`
	BuildScript      string   `mapstructure:"build_script"`
	BuildCommand     string   `mapstructure:"build_command"` // injected when build_script is missing
	InstallFlags     []string `mapstructure:"install_flags"`
	RouteDir         string   `mapstructure:"route_dir"`
	StaticBundleDir  string   `mapstructure:"static_bundle_dir"`
	AssetPrefix      string   `mapstructure:"asset_prefix"`
	StaticDir        string   `mapstructure:"static_dir"`
	NpmPath          string   `mapstructure:"npm_path"`
	RegistryTokenEnv string   `mapstructure:"registry_token_env"`
	Entrypoints      []string `mapstructure:"entrypoints"` // accepted entrypoint file name patterns
}

// StorageConfig contains object storage settings
type StorageConfig struct {
	Provider     string `mapstructure:"provider"` // local or s3
	LocalPath    string `mapstructure:"local_path"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	S3Region     string `mapstructure:"s3_region"`
	S3UseSSL     bool   `mapstructure:"s3_use_ssl"`
	SourceBucket string `mapstructure:"source_bucket"`
	OutputBucket string `mapstructure:"output_bucket"`
}

// TracingConfig contains OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `mapstructure:"service_name"` // Service name for traces
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"` // 0.0-1.0
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // Prometheus text format output path
}

// Load loads configuration from file and environment variables. A non-empty
// configFile is read instead of searching the default locations.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("ssr-builder")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/ssr-builder")
	}
	viper.SetConfigType("yaml")

	SetDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SSR_BUILDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// SetDefaults registers default configuration values with viper
func SetDefaults() {
	// Build defaults
	viper.SetDefault("build.max_package_size", 5*1024*1024) // 5MB
	viper.SetDefault("build.concurrency", 8)
	viper.SetDefault("build.runtime", "nodejs8.10")
	viper.SetDefault("build.handler", "now__launcher.launcher")
	viper.SetDefault("build.build_script", "now-build")
	viper.SetDefault("build.build_command", "nuxt build")
	viper.SetDefault("build.install_flags", []string{"--prefer-offline"})
	viper.SetDefault("build.route_dir", discover.DefaultRouteDir)
	viper.SetDefault("build.static_bundle_dir", discover.DefaultStaticBundleDir)
	viper.SetDefault("build.asset_prefix", "_nuxt")
	viper.SetDefault("build.static_dir", "static")
	viper.SetDefault("build.npm_path", "npm")
	viper.SetDefault("build.registry_token_env", "NPM_AUTH_TOKEN")
	viper.SetDefault("build.entrypoints", []string{"package.json", "nuxt.config.js"})

	// Storage defaults
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local_path", "./storage")
	viper.SetDefault("storage.s3_endpoint", "")
	viper.SetDefault("storage.s3_access_key", "")
	viper.SetDefault("storage.s3_secret_key", "")
	viper.SetDefault("storage.s3_region", "us-east-1")
	viper.SetDefault("storage.s3_use_ssl", true)
	viper.SetDefault("storage.source_bucket", "")
	viper.SetDefault("storage.output_bucket", "")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.service_name", "ssr-builder")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	viper.SetDefault("metrics.textfile", "")

	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Build.Validate(); err != nil {
		return fmt.Errorf("build configuration error: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration error: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration error: %w", err)
	}
	return nil
}

// Validate validates the build configuration
func (bc *BuildConfig) Validate() error {
	if bc.MaxPackageSize <= 0 {
		return fmt.Errorf("max_package_size must be positive")
	}
	if bc.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if bc.Runtime == "" {
		return fmt.Errorf("runtime is required")
	}
	if bc.Handler == "" {
		return fmt.Errorf("handler is required")
	}
	if bc.BuildScript == "" {
		return fmt.Errorf("build_script is required")
	}
	if bc.RouteDir == "" || bc.StaticBundleDir == "" {
		return fmt.Errorf("route_dir and static_bundle_dir are required")
	}
	if !isSegment(bc.AssetPrefix) {
		return fmt.Errorf("asset_prefix must be a single path segment, got %q", bc.AssetPrefix)
	}
	if !isSegment(bc.StaticDir) {
		return fmt.Errorf("static_dir must be a single path segment, got %q", bc.StaticDir)
	}
	if bc.AssetPrefix == bc.StaticDir {
		return fmt.Errorf("asset_prefix and static_dir must differ")
	}
	if len(bc.Entrypoints) == 0 {
		return fmt.Errorf("at least one entrypoint pattern is required")
	}
	for _, pattern := range bc.Entrypoints {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid entrypoint pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func isSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

// Validate validates storage configuration
func (sc *StorageConfig) Validate() error {
	switch sc.Provider {
	case "local":
		if sc.LocalPath == "" {
			return fmt.Errorf("local_path is required for local storage")
		}
	case "s3":
		if sc.S3Endpoint == "" || sc.S3AccessKey == "" || sc.S3SecretKey == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	default:
		return fmt.Errorf("storage provider must be 'local' or 's3'")
	}
	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %v", tc.SampleRate)
	}
	return nil
}
