package kms

import (
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// AWSConfig configures an AWS KMS wrapper
type AWSConfig struct {
	KeyID       string
	Region      string
	Credentials *types.KMSCredentials
}

// AzureConfig configures an Azure Key Vault wrapper
type AzureConfig struct {
	KeyID        string
	VaultAddress string
	Credentials  *types.KMSCredentials
}

// GCPConfig configures a Google Cloud KMS wrapper.
// ResourceName has the form projects/{p}/locations/{l}/keyRings/{r}/cryptoKeys/{k}.
type GCPConfig struct {
	ResourceName string
	Credentials  *types.KMSCredentials
}

// VaultConfig configures a HashiCorp Vault Transit wrapper
type VaultConfig struct {
	KeyID        string
	VaultAddress string
	VaultMount   string
	Credentials  *types.KMSCredentials
}

// Config represents the internal KMS provider configuration
type Config struct {
	Type          types.ProviderType
	AWS           *AWSConfig
	Azure         *AzureConfig
	GCP           *GCPConfig
	Vault         *VaultConfig
	AeadKeyBase64 string
	AeadKeyID     string
}

// ConfigFromKey builds the provider configuration for the wrapper named by cfg.Provider
func ConfigFromKey(cfg types.KeyConfig) Config {
	c := Config{Type: cfg.Provider}
	switch cfg.Provider {
	case types.ProviderAWS:
		c.AWS = &AWSConfig{KeyID: cfg.KeyID, Region: cfg.Region, Credentials: cfg.Credentials}
	case types.ProviderAzure:
		c.Azure = &AzureConfig{KeyID: cfg.KeyID, VaultAddress: cfg.VaultAddress, Credentials: cfg.Credentials}
	case types.ProviderGCP:
		c.GCP = &GCPConfig{ResourceName: cfg.KeyID, Credentials: cfg.Credentials}
	case types.ProviderVault:
		c.Vault = &VaultConfig{
			KeyID:        cfg.KeyID,
			VaultAddress: cfg.VaultAddress,
			VaultMount:   cfg.VaultMount,
			Credentials:  cfg.Credentials,
		}
	case types.ProviderAead:
		c.AeadKeyBase64 = cfg.AeadKeyBase64
		c.AeadKeyID = cfg.KeyID
	}
	return c
}
