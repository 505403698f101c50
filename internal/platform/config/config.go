package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable for the dispatch service. Values come from
// config.defaults.yaml (optional) overridden by BLC_-prefixed environment
// variables, e.g. BLC_DATAVERSE_URL, BLC_DRY_RUN_DEFAULT.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPPort int    `mapstructure:"HTTP_PORT"`

	// Dataverse environment and the service principal used against it.
	DataverseURL      string `mapstructure:"DATAVERSE_URL"`
	AzureTenantID     string `mapstructure:"AZURE_TENANT_ID"`
	AzureClientID     string `mapstructure:"AZURE_CLIENT_ID"`
	AzureClientSecret string `mapstructure:"AZURE_CLIENT_SECRET"`

	// Resilience tunables for the Dataverse client.
	HTTPTimeout             time.Duration `mapstructure:"HTTP_TIMEOUT"`
	MetadataTimeout         time.Duration `mapstructure:"METADATA_TIMEOUT"`
	RetryMaxAttempts        int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBackoffFactor      float64       `mapstructure:"RETRY_BACKOFF_FACTOR"`
	BreakerFailureThreshold int           `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerRecoveryTimeout  time.Duration `mapstructure:"BREAKER_RECOVERY_TIMEOUT"`

	// Messaging provider settings. Transports are mocked in-repo; these are
	// carried through so a real transport can be dropped in later.
	GraphTenantID      string `mapstructure:"GRAPH_TENANT_ID"`
	GraphClientID      string `mapstructure:"GRAPH_CLIENT_ID"`
	GraphClientSecret  string `mapstructure:"GRAPH_CLIENT_SECRET"`
	RespondAPIKey      string `mapstructure:"RESPOND_API_KEY"`
	RespondWorkspaceID string `mapstructure:"RESPOND_WORKSPACE_ID"`
	RespondBaseURL     string `mapstructure:"RESPOND_BASE_URL"`

	// Processor settings.
	ProcessorBatchSize       int           `mapstructure:"PROCESSOR_BATCH_SIZE"`
	ProcessorPollingInterval time.Duration `mapstructure:"PROCESSOR_POLLING_INTERVAL"`

	// Guardrail settings. Dry-run defaults on; flipping it off is a
	// deliberate production decision.
	DryRunDefault   bool `mapstructure:"DRY_RUN_DEFAULT"`
	RequireApproval bool `mapstructure:"REQUIRE_APPROVAL"`
	LocalSandbox    bool `mapstructure:"LOCAL_SANDBOX"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("BLC")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_PORT", 8080)

	v.SetDefault("DATAVERSE_URL", "")
	v.SetDefault("AZURE_TENANT_ID", "")
	v.SetDefault("AZURE_CLIENT_ID", "")
	v.SetDefault("AZURE_CLIENT_SECRET", "")

	v.SetDefault("HTTP_TIMEOUT", 15*time.Second)
	v.SetDefault("METADATA_TIMEOUT", 60*time.Second)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BACKOFF_FACTOR", 2.0)
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_RECOVERY_TIMEOUT", 30*time.Second)

	v.SetDefault("GRAPH_TENANT_ID", "mock-tenant")
	v.SetDefault("GRAPH_CLIENT_ID", "mock-client")
	v.SetDefault("GRAPH_CLIENT_SECRET", "mock-secret")
	v.SetDefault("RESPOND_API_KEY", "mock-key")
	v.SetDefault("RESPOND_WORKSPACE_ID", "mock-workspace")
	v.SetDefault("RESPOND_BASE_URL", "https://api.respond.io")

	v.SetDefault("PROCESSOR_BATCH_SIZE", 50)
	v.SetDefault("PROCESSOR_POLLING_INTERVAL", time.Minute)

	v.SetDefault("DRY_RUN_DEFAULT", true)
	v.SetDefault("REQUIRE_APPROVAL", true)
	v.SetDefault("LOCAL_SANDBOX", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("config.defaults.yaml not found; using defaults and environment variables")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings required to talk to a real Dataverse
// environment. A sandboxed process never reaches Dataverse, so it skips
// the credential checks.
func (c *Config) Validate() error {
	if c.LocalSandbox {
		return nil
	}

	var missing []string
	if c.DataverseURL == "" {
		missing = append(missing, "BLC_DATAVERSE_URL")
	}
	if c.AzureTenantID == "" {
		missing = append(missing, "BLC_AZURE_TENANT_ID")
	}
	if c.AzureClientID == "" {
		missing = append(missing, "BLC_AZURE_CLIENT_ID")
	}
	if c.AzureClientSecret == "" {
		missing = append(missing, "BLC_AZURE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.DataverseURL, "http://") && !strings.HasPrefix(c.DataverseURL, "https://") {
		return fmt.Errorf("BLC_DATAVERSE_URL must be an absolute URL, got %q", c.DataverseURL)
	}
	return nil
}
