package deploy

import (
	"fmt"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"

	"github.com/ic-communities/deployutils/batch"
)

// Store backends.
const (
	BackendGateway = "gateway"
	BackendS3      = "s3"
)

// Config is the deployment configuration, read from the environment.
type Config struct {
	Network         string          `env:"network"`
	Identity        string          `env:"identity"`
	GatewayURL      string          `env:"gateway_url"`
	GatewayToken    stepconf.Secret `env:"gateway_token"`
	CanisterIDsFile string          `env:"canister_ids_file"`

	Backend            string          `env:"store_backend"`
	S3Bucket           string          `env:"s3_bucket"`
	S3Region           string          `env:"s3_region"`
	S3Endpoint         string          `env:"s3_endpoint"`
	S3Prefix           string          `env:"s3_prefix"`
	AWSAccessKeyID     stepconf.Secret `env:"aws_access_key_id"`
	AWSSecretAccessKey stepconf.Secret `env:"aws_secret_access_key"`

	Version            string `env:"version"`
	UpgradeFromVersion string `env:"upgrade_from_version"`
	UpgradeFromTrack   string `env:"upgrade_from_track"`
	Track              string `env:"track"`
	Description        string `env:"description"`
	Path               string `env:"path"`
	Filter             string `env:"filter"`

	ChunkSize     int    `env:"chunk_size"`
	ErrorPolicy   string `env:"error_policy"`
	Concurrency   int    `env:"concurrency"`
	MaxRestarts   int    `env:"max_restarts"`
	IntegrityHash bool   `env:"integrity_hash"`
	JournalPath   string `env:"journal_path"`
	Verbose       bool   `env:"verbose"`
}

// ParseConfig reads the configuration from envRepo and fills in defaults.
func ParseConfig(envRepo env.Repository) (Config, error) {
	var config Config
	if err := stepconf.NewInputParser(envRepo).Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	config.ApplyDefaults()
	return config, config.Validate()
}

// ApplyDefaults sets every empty setting to its default.
func (c *Config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "local"
	}
	if c.Identity == "" {
		c.Identity = "default"
	}
	if c.GatewayURL == "" {
		c.GatewayURL = DefaultGatewayURL(c.Network)
	}
	if c.CanisterIDsFile == "" {
		c.CanisterIDsFile = CanisterIDsPath(c.Network)
	}
	if c.Backend == "" {
		c.Backend = BackendGateway
	}
	if c.Version == "" {
		c.Version = "0.0.1"
	}
	if c.Track == "" {
		c.Track = "default"
	}
	if c.Description == "" {
		c.Description = "upgrade to " + c.Version
	}
	if c.Path == "" {
		c.Path = "./build/child"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = batch.DefaultChunkSize
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = batch.FailFast.String()
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendGateway:
	case BackendS3:
		if c.S3Bucket == "" {
			return &batch.ConfigurationError{Field: "s3_bucket", Reason: "is required for the s3 store backend"}
		}
		if c.S3Region == "" {
			return &batch.ConfigurationError{Field: "s3_region", Reason: "is required for the s3 store backend"}
		}
	default:
		return &batch.ConfigurationError{Field: "store_backend", Reason: fmt.Sprintf("must be %s or %s, got %q", BackendGateway, BackendS3, c.Backend)}
	}
	if c.ChunkSize <= 0 {
		return &batch.ConfigurationError{Field: "chunk_size", Reason: fmt.Sprintf("must be positive, got %d", c.ChunkSize)}
	}
	if c.Concurrency <= 0 {
		return &batch.ConfigurationError{Field: "concurrency", Reason: fmt.Sprintf("must be positive, got %d", c.Concurrency)}
	}
	if c.MaxRestarts < 0 {
		return &batch.ConfigurationError{Field: "max_restarts", Reason: fmt.Sprintf("must not be negative, got %d", c.MaxRestarts)}
	}
	if _, err := batch.ParsePolicy(c.ErrorPolicy); err != nil {
		return err
	}
	if (c.UpgradeFromVersion == "") != (c.UpgradeFromTrack == "") {
		return &batch.ConfigurationError{Field: "upgrade_from_version", Reason: "and upgrade_from_track must be set together"}
	}
	return nil
}

// BatchConfig returns the uploader configuration.
func (c Config) BatchConfig() batch.Config {
	config := batch.DefaultConfig()
	config.ChunkSize = c.ChunkSize
	config.MaxRestarts = uint(c.MaxRestarts)
	config.IntegrityHash = c.IntegrityHash
	return config
}

// UploadAllOptions returns the multi-key upload options.
func (c Config) UploadAllOptions() batch.UploadAllOptions {
	policy, _ := batch.ParsePolicy(c.ErrorPolicy)
	return batch.UploadAllOptions{Policy: policy, Concurrency: c.Concurrency}
}

// UpgradeParams returns the upgrade settings.
func (c Config) UpgradeParams() UpgradeParams {
	return UpgradeParams{
		Version:            c.Version,
		UpgradeFromVersion: c.UpgradeFromVersion,
		UpgradeFromTrack:   c.UpgradeFromTrack,
		Track:              c.Track,
		Description:        c.Description,
		Path:               c.Path,
		Filter:             c.Filter,
	}
}

// DefaultGatewayURL returns the call gateway of a network.
func DefaultGatewayURL(network string) string {
	if network == "ic" {
		return "https://ic0.app"
	}
	return "http://localhost:8000"
}
