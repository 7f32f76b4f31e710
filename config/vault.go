package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	"github.com/spf13/viper"
)

// VaultLocalConfig carries AppRole credentials for local authentication.
type VaultLocalConfig struct {
	RoleID   string `mapstructure:"role_id"`
	SecretID string `mapstructure:"secret_id"`
}

// VaultConfig represents the configuration for the secret source.
type VaultConfig struct {
	Address string           `mapstructure:"address"`
	Mount   string           `mapstructure:"mount"`
	Path    string           `mapstructure:"path"`
	Local   VaultLocalConfig `mapstructure:"local"`
}

// VaultLoadConfig loads the Vault connection settings from environment
// variables. An empty address means no Vault overlay is configured.
func VaultLoadConfig() (*VaultConfig, error) {
	viper.SetEnvPrefix("SQAAAS")

	// Bind environment variables
	viper.BindEnv("vault.address", "SQAAAS_VAULT_ADDRESS")
	viper.BindEnv("vault.mount", "SQAAAS_VAULT_MOUNT")
	viper.BindEnv("vault.path", "SQAAAS_VAULT_PATH")
	viper.BindEnv("vault.local.role_id", "SQAAAS_VAULT_LOCAL_ROLE_ID")
	viper.BindEnv("vault.local.secret_id", "SQAAAS_VAULT_LOCAL_SECRET_ID")

	// Read environment variables
	viper.AutomaticEnv()

	var wrapper struct {
		Vault VaultConfig `mapstructure:"vault"`
	}
	if err := viper.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	config := wrapper.Vault
	if config.Address != "" {
		if config.Mount == "" {
			config.Mount = "secret"
		}
		if config.Path == "" {
			return nil, fmt.Errorf("vault path is required when vault address is set")
		}
	}
	return &config, nil
}

// VaultClient prepares an authenticated Vault client.
func VaultClient(ctx context.Context, config *VaultConfig) (*vault.Client, error) {
	client, err := vault.New(
		vault.WithAddress(config.Address),
		vault.WithRequestTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("error configuring vault, %v", err)
	}

	// Load local configuration if needed to authenticate
	if config.Local.RoleID != "" && config.Local.SecretID != "" {
		resp, err := client.Auth.AppRoleLogin(
			ctx,
			schema.AppRoleLoginRequest{
				RoleId:   config.Local.RoleID,
				SecretId: config.Local.SecretID,
			})
		if err != nil {
			return nil, fmt.Errorf("error authenticating with vault, %v", err)
		}
		if err := client.SetToken(resp.Auth.ClientToken); err != nil {
			return nil, fmt.Errorf("error retrieving token %v", err)
		}
	}
	return client, nil
}

// ApplyVaultSecrets overlays secret material from a KV v2 path onto the
// loaded configuration. Keys that are absent in Vault leave the
// environment-provided values untouched.
func ApplyVaultSecrets(ctx context.Context, config *Config, vaultConfig *VaultConfig) error {
	if vaultConfig.Address == "" {
		return nil
	}

	client, err := VaultClient(ctx, vaultConfig)
	if err != nil {
		return err
	}

	secret, err := client.Secrets.KvV2Read(
		ctx,
		vaultConfig.Path,
		vault.WithMountPath(vaultConfig.Mount),
	)
	if err != nil {
		return fmt.Errorf("error reading secret, %v", err)
	}

	data := secret.Data.Data
	overlayString(data, "github_token", &config.Github.Token)
	overlayString(data, "github_app_private_key", &config.Github.AppPrivateKey)
	overlayString(data, "jenkins_token", &config.Jenkins.Token)
	overlayString(data, "badgr_password", &config.Badgr.Password)
	overlayString(data, "kafka_password", &config.Kafka.Password)
	overlayString(data, "apikey", &config.ApiKey)
	return nil
}

func overlayString(data map[string]interface{}, key string, target *string) {
	if value, ok := data[key].(string); ok && value != "" {
		*target = value
	}
}
