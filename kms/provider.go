// Package kms loads the vault key at startup, either from raw configuration
// or by unwrapping a KMS-wrapped key blob
package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	awskms "github.com/hashicorp/go-kms-wrapping/wrappers/awskms/v2"
	azurekeyvault "github.com/hashicorp/go-kms-wrapping/wrappers/azurekeyvault/v2"
	gcpckms "github.com/hashicorp/go-kms-wrapping/wrappers/gcpckms/v2"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "kms").Logger()

// provider implements the KMSProvider interface
type provider struct {
	wrapper         wrapping.Wrapper
	lastHealthCheck error
}

// NewProvider creates a new KMS provider based on the configuration
func NewProvider(config Config) (interfaces.KMSProvider, error) {
	var wrapper wrapping.Wrapper
	var err error
	var keyID, location string

	logger.Debug().
		Str("provider", string(config.Type)).
		Msg("Initializing KMS provider")

	switch config.Type {
	case types.ProviderAWS:
		if config.AWS == nil {
			return nil, fmt.Errorf("AWS configuration is missing for provider type %s", config.Type)
		}
		keyID = config.AWS.KeyID
		location = config.AWS.Region
		if err = validateAWSConfig(*config.AWS); err != nil {
			return nil, fmt.Errorf("invalid AWS KMS configuration: %w", err)
		}
		wrapper, err = createAWSWrapper(*config.AWS)
	case types.ProviderAzure:
		if config.Azure == nil {
			return nil, fmt.Errorf("azure configuration is missing for provider type %s", config.Type)
		}
		keyID = config.Azure.KeyID
		location = config.Azure.VaultAddress
		if err = validateAzureConfig(*config.Azure); err != nil {
			return nil, fmt.Errorf("invalid Azure Key Vault configuration: %w", err)
		}
		wrapper, err = createAzureWrapper(*config.Azure)
	case types.ProviderGCP:
		if config.GCP == nil {
			return nil, fmt.Errorf("GCP configuration is missing for provider type %s", config.Type)
		}
		keyID = config.GCP.ResourceName
		if err = validateGCPConfig(*config.GCP); err != nil {
			return nil, fmt.Errorf("invalid GCP KMS configuration: %w", err)
		}
		location = strings.Split(config.GCP.ResourceName, "/")[3]
		wrapper, err = createGCPWrapper(*config.GCP)
	case types.ProviderVault:
		if config.Vault == nil {
			return nil, fmt.Errorf("vault configuration is missing for provider type %s", config.Type)
		}
		keyID = config.Vault.KeyID
		location = config.Vault.VaultAddress
		if err = validateVaultConfig(*config.Vault); err != nil {
			return nil, fmt.Errorf("invalid Vault configuration: %w", err)
		}
		wrapper, err = createVaultWrapper(*config.Vault)
	case types.ProviderAead:
		wrapper, err = createAeadWrapper(config.AeadKeyBase64, config.AeadKeyID)
		keyID = config.AeadKeyID
		location = "local"
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", config.Type)
	}

	if err != nil {
		logger.Error().Err(err).Str("provider", string(config.Type)).Msg("Failed to create KMS provider wrapper")
		return nil, fmt.Errorf("failed to create wrapper: %w", err)
	}

	logger.Info().
		Str("provider", string(config.Type)).
		Str("key_identifier", keyID).
		Str("location", location).
		Msg("KMS provider initialized")

	return &provider{wrapper: wrapper}, nil
}

// GetWrapper returns the underlying KMS wrapper
func (p *provider) GetWrapper() wrapping.Wrapper {
	return p.wrapper
}

// Test tests the KMS wrapper by performing a test encryption/decryption
func (p *provider) Test(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("wrapper not initialized")
	}

	probe := []byte("evidence-vault")
	encrypted, err := p.wrapper.Encrypt(ctx, probe)
	if err != nil {
		return fmt.Errorf("encryption test failed: %w", err)
	}
	decrypted, err := p.wrapper.Decrypt(ctx, encrypted)
	if err != nil {
		return fmt.Errorf("decryption test failed: %w", err)
	}
	if string(decrypted) != string(probe) {
		return fmt.Errorf("decrypted data does not match original")
	}
	return nil
}

// HealthCheck performs an encrypt/decrypt round trip and records the outcome
func (p *provider) HealthCheck(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("KMS provider not properly initialized: wrapper is nil")
	}
	if err := p.Test(ctx); err != nil {
		p.lastHealthCheck = fmt.Errorf("KMS provider health check failed: %w", err)
		return p.lastHealthCheck
	}
	p.lastHealthCheck = nil
	return nil
}

// GetLastHealthCheckError returns the last health check error if any
func (p *provider) GetLastHealthCheckError() error {
	return p.lastHealthCheck
}

// validateAWSConfig validates AWS KMS configuration
func validateAWSConfig(awsConfig AWSConfig) error {
	if awsConfig.KeyID == "" {
		return fmt.Errorf("key ID (ARN) is required")
	}
	if awsConfig.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c := awsConfig.Credentials; c != nil {
		if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
			return fmt.Errorf("both accessKeyId and secretAccessKey must be provided if using credentials")
		}
	} else {
		logger.Info().Msg("AWS credentials not provided in config, assuming environment variables or default credentials")
	}
	return nil
}

// validateAzureConfig validates Azure Key Vault configuration
func validateAzureConfig(azureConfig AzureConfig) error {
	if azureConfig.KeyID == "" {
		return fmt.Errorf("key ID (URL) is required")
	}
	if !strings.HasPrefix(azureConfig.VaultAddress, "https://") || !strings.Contains(azureConfig.VaultAddress, ".vault.azure.net") {
		return fmt.Errorf("vault address must be a valid Azure Key Vault URL (e.g., https://myvault.vault.azure.net)")
	}
	if c := azureConfig.Credentials; c != nil {
		required := map[string]string{"tenantId": c.TenantID, "clientId": c.ClientID, "clientSecret": c.ClientSecret}
		for _, field := range []string{"tenantId", "clientId", "clientSecret"} {
			if required[field] == "" {
				return fmt.Errorf("%s is required in credentials and cannot be empty", field)
			}
		}
	} else {
		logger.Info().Msg("Azure credentials not provided, assuming Managed Identity")
	}
	return nil
}

// validateGCPConfig validates GCP KMS configuration
func validateGCPConfig(gcpConfig GCPConfig) error {
	if gcpConfig.ResourceName == "" {
		return fmt.Errorf("resource name is required")
	}
	parts := strings.Split(gcpConfig.ResourceName, "/")
	if len(parts) != 8 || parts[0] != "projects" || parts[2] != "locations" || parts[4] != "keyRings" || parts[6] != "cryptoKeys" {
		return fmt.Errorf("invalid resource name format. Expected: projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}")
	}
	if parts[1] == "" || parts[3] == "" || parts[5] == "" || parts[7] == "" {
		return fmt.Errorf("project, location, keyRing, and cryptoKey components in resource name cannot be empty")
	}
	// A present credentials block must carry the service account JSON; omit it for ADC
	if gcpConfig.Credentials != nil && gcpConfig.Credentials.CredentialsJSON == "" {
		return fmt.Errorf("credentialsJson is required in credentials and cannot be empty")
	}
	return nil
}

// validateVaultConfig validates HashiCorp Vault configuration
func validateVaultConfig(vaultConfig VaultConfig) error {
	if vaultConfig.KeyID == "" {
		return fmt.Errorf("key ID (key name) is required")
	}
	if vaultConfig.VaultAddress == "" {
		return fmt.Errorf("vault address is required")
	}
	if vaultConfig.Credentials != nil && vaultConfig.Credentials.Token == "" {
		return fmt.Errorf("token is required in credentials and cannot be empty")
	}
	return nil
}

func createAWSWrapper(awsConfig AWSConfig) (wrapping.Wrapper, error) {
	wrapper := awskms.NewWrapper()

	configMap := map[string]string{
		"kms_key_id": awsConfig.KeyID,
		"region":     awsConfig.Region,
	}
	if c := awsConfig.Credentials; c != nil {
		if c.AccessKeyID != "" {
			configMap["access_key"] = c.AccessKeyID
		}
		if c.SecretAccessKey != "" {
			configMap["secret_key"] = c.SecretAccessKey
		}
		if c.SessionToken != "" {
			configMap["session_token"] = c.SessionToken
		}
	}

	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure AWS KMS wrapper: %w", err)
	}
	return wrapper, nil
}

func createAzureWrapper(azureConfig AzureConfig) (wrapping.Wrapper, error) {
	wrapper := azurekeyvault.NewWrapper()

	// https://myvault.vault.azure.net/keys/mykey/version
	keyName := azureConfig.KeyID
	keyVersion := ""
	parts := strings.Split(azureConfig.KeyID, "/")
	if len(parts) >= 5 && parts[3] == "keys" {
		keyName = parts[4]
		if len(parts) >= 6 {
			keyVersion = parts[5]
		}
	} else {
		logger.Warn().Str("key_id", azureConfig.KeyID).Msg("Azure key id is not a key identifier URL, using it as key_name")
	}
	vaultName := strings.Split(strings.TrimPrefix(azureConfig.VaultAddress, "https://"), ".")[0]

	configMap := map[string]string{
		"key_name":   keyName,
		"vault_name": vaultName,
		"vault_url":  azureConfig.VaultAddress,
	}
	if keyVersion != "" {
		configMap["key_version"] = keyVersion
	}
	if c := azureConfig.Credentials; c != nil {
		configMap["tenant_id"] = c.TenantID
		configMap["client_id"] = c.ClientID
		configMap["client_secret"] = c.ClientSecret
	}

	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Azure Key Vault wrapper: %w", err)
	}
	return wrapper, nil
}

func createGCPWrapper(gcpConfig GCPConfig) (wrapping.Wrapper, error) {
	wrapper := gcpckms.NewWrapper()

	parts := strings.Split(gcpConfig.ResourceName, "/")
	configMap := map[string]string{
		"project":    parts[1],
		"region":     parts[3],
		"key_ring":   parts[5],
		"crypto_key": parts[7],
	}

	// The library only reads credentials from a file path
	if gcpConfig.Credentials != nil {
		tempFile, err := os.CreateTemp("", "gcp-creds-*.json")
		if err != nil {
			return nil, fmt.Errorf("failed to create temporary credentials file: %w", err)
		}
		defer func() {
			if err := os.Remove(tempFile.Name()); err != nil {
				logger.Error().Err(err).Str("path", tempFile.Name()).Msg("Failed to remove temporary credentials file")
			}
		}()

		if _, err := tempFile.WriteString(gcpConfig.Credentials.CredentialsJSON); err != nil {
			_ = tempFile.Close()
			return nil, fmt.Errorf("failed to write credentials to temporary file: %w", err)
		}
		if err := tempFile.Close(); err != nil {
			logger.Error().Err(err).Str("path", tempFile.Name()).Msg("Failed to close temporary credentials file")
		}
		configMap["credentials"] = tempFile.Name()
	} else {
		logger.Info().Msg("GCP credentials not provided in config, relying on Application Default Credentials")
	}

	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure GCP KMS wrapper: %w", err)
	}
	return wrapper, nil
}

func createVaultWrapper(vaultConfig VaultConfig) (wrapping.Wrapper, error) {
	wrapper := transit.NewWrapper()

	configMap := map[string]string{
		"address":  vaultConfig.VaultAddress,
		"key_name": vaultConfig.KeyID,
	}
	if vaultConfig.VaultMount != "" {
		configMap["mount_path"] = vaultConfig.VaultMount
	}
	if vaultConfig.Credentials != nil {
		configMap["token"] = vaultConfig.Credentials.Token
	} else {
		logger.Info().Msg("Vault token not provided in config, assuming VAULT_TOKEN environment variable")
	}

	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Vault Transit wrapper: %w", err)
	}
	return wrapper, nil
}

// createAeadWrapper builds a local AES-256-GCM wrapper, used for development
// and for wrapping keys without a cloud KMS
func createAeadWrapper(keyBase64, keyID string) (wrapping.Wrapper, error) {
	if keyBase64 == "" {
		return nil, fmt.Errorf("AEAD provider requires aead_key_base64")
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode aead_key_base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("decoded AEAD key must be 32 bytes for AES-256-GCM, got %d", len(key))
	}

	wrapper := kmsaead.NewWrapper()
	opts := []wrapping.Option{kmsaead.WithKey(key)}
	if keyID != "" {
		opts = append(opts, wrapping.WithKeyId(keyID))
	}
	if _, err := wrapper.SetConfig(context.Background(), opts...); err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return wrapper, nil
}
