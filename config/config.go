// Package config loads the orchestrator configuration from environment
// variables, with optional secret material pulled from Vault.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/events"
)

// GithubConfig represents the configuration for the code host.
type GithubConfig struct {
	// Organization hosts the generated pipeline repositories.
	Organization string `mapstructure:"organization"`

	// Token authenticates as a personal access token. Leave empty to use
	// GitHub App credentials instead.
	Token string `mapstructure:"token"`

	// App credentials.
	AppID         int64  `mapstructure:"app_id"`
	InstallID     int64  `mapstructure:"install_id"`
	AppPrivateKey string `mapstructure:"app_private_key"`
}

// JenkinsConfig represents the configuration for the CI system.
type JenkinsConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`
}

// BadgrConfig represents the configuration for the badge service.
type BadgrConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Issuer   string `mapstructure:"issuer"`
}

// SynthesizerConfig tunes artifact generation.
type SynthesizerConfig struct {
	FallbackCredentialID string `mapstructure:"fallback_credential_id"`
	DefaultDockerOrg     string `mapstructure:"default_docker_org"`
	LibraryVersion       string `mapstructure:"library_version"`
}

// Config holds the application-wide configuration.
type Config struct {
	Github      GithubConfig       `mapstructure:"github"`
	Jenkins     JenkinsConfig      `mapstructure:"jenkins"`
	Badgr       BadgrConfig        `mapstructure:"badgr"`
	Kafka       events.KafkaConfig `mapstructure:"kafka"`
	Synthesizer SynthesizerConfig  `mapstructure:"synthesizer"`
	StorePath   string             `mapstructure:"store_path"`
	Listen      string             `mapstructure:"listen"`
	ApiKey      string             `mapstructure:"apikey"`
	Loglevel    string             `mapstructure:"loglevel"`
}

// LoadConfig loads the configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("SQAAAS") // e.g. SQAAAS_GITHUB_TOKEN

	// Bind environment variables
	viper.BindEnv("github.organization", "SQAAAS_GITHUB_ORGANIZATION")
	viper.BindEnv("github.token", "SQAAAS_GITHUB_TOKEN")
	viper.BindEnv("github.app_id", "SQAAAS_GITHUB_APP_ID")
	viper.BindEnv("github.install_id", "SQAAAS_GITHUB_INSTALL_ID")
	viper.BindEnv("github.app_private_key", "SQAAAS_GITHUB_APP_PRIVATE_KEY")
	viper.BindEnv("jenkins.url", "SQAAAS_JENKINS_URL")
	viper.BindEnv("jenkins.username", "SQAAAS_JENKINS_USERNAME")
	viper.BindEnv("jenkins.token", "SQAAAS_JENKINS_TOKEN")
	viper.BindEnv("badgr.url", "SQAAAS_BADGR_URL")
	viper.BindEnv("badgr.username", "SQAAAS_BADGR_USERNAME")
	viper.BindEnv("badgr.password", "SQAAAS_BADGR_PASSWORD")
	viper.BindEnv("badgr.issuer", "SQAAAS_BADGR_ISSUER")
	viper.BindEnv("kafka.address", "SQAAAS_KAFKA_ADDRESS")
	viper.BindEnv("kafka.topic", "SQAAAS_KAFKA_TOPIC")
	viper.BindEnv("kafka.username", "SQAAAS_KAFKA_USERNAME")
	viper.BindEnv("kafka.password", "SQAAAS_KAFKA_PASSWORD")
	viper.BindEnv("synthesizer.fallback_credential_id", "SQAAAS_SYNTH_FALLBACK_CREDENTIAL_ID")
	viper.BindEnv("synthesizer.default_docker_org", "SQAAAS_SYNTH_DEFAULT_DOCKER_ORG")
	viper.BindEnv("synthesizer.library_version", "SQAAAS_SYNTH_LIBRARY_VERSION")
	viper.BindEnv("store_path", "SQAAAS_STORE_PATH")
	viper.BindEnv("listen", "SQAAAS_LISTEN")
	viper.BindEnv("apikey", "SQAAAS_APIKEY")
	viper.BindEnv("loglevel", "SQAAAS_LOG_LEVEL")

	// Read environment variables
	viper.AutomaticEnv()

	var config Config

	// Unmarshal environment variables into the Config struct
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the loaded configuration.
func validateConfig(config *Config) error {
	if config.Github.Organization == "" {
		return fmt.Errorf("github organization is required")
	}
	if config.Github.Token == "" {
		if config.Github.AppID == 0 || config.Github.InstallID == 0 || config.Github.AppPrivateKey == "" {
			return fmt.Errorf("github token or app credentials are required")
		}
	}
	if config.Jenkins.URL == "" {
		return fmt.Errorf("jenkins url is required")
	}
	if config.Badgr.URL == "" {
		return fmt.Errorf("badgr url is required")
	}
	if config.Badgr.Issuer == "" {
		return fmt.Errorf("badgr issuer is required")
	}
	if config.ApiKey == "" {
		return fmt.Errorf("apikey is required")
	}
	if config.StorePath == "" {
		config.StorePath = "/sqaaas/sqaaas.json"
	}
	if config.Listen == "" {
		config.Listen = ":8080"
	}
	if config.Loglevel == "" {
		config.Loglevel = "info"
	}
	return nil
}
