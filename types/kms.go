package types

// ProviderType represents the type of KMS provider used to unwrap the vault key
type ProviderType string

const (
	ProviderAWS   ProviderType = "aws"
	ProviderAzure ProviderType = "azure"
	ProviderGCP   ProviderType = "gcp"
	ProviderVault ProviderType = "vault"
	ProviderAead  ProviderType = "aead"
)

// KMSCredentials represents KMS provider credentials
type KMSCredentials struct {
	// AWS credentials
	AccessKeyID     string `json:"accessKeyId,omitempty" koanf:"access_key_id"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" koanf:"secret_access_key"`
	SessionToken    string `json:"sessionToken,omitempty" koanf:"session_token"`

	// Azure credentials
	TenantID     string `json:"tenantId,omitempty" koanf:"tenant_id"`
	ClientID     string `json:"clientId,omitempty" koanf:"client_id"`
	ClientSecret string `json:"clientSecret,omitempty" koanf:"client_secret"`

	// GCP credentials
	CredentialsJSON string `json:"credentialsJson,omitempty" koanf:"credentials_json"`

	// Vault credentials
	Token string `json:"token,omitempty" koanf:"token"`
}

// KeyConfig describes where the single vault key comes from.
// Exactly one of KeyBase64 or WrappedKeyBase64 must be set. A wrapped key is
// a protobuf encoded wrapping.BlobInfo that is unwrapped once at startup.
type KeyConfig struct {
	KeyBase64        string          `json:"-" koanf:"key_base64"`
	WrappedKeyBase64 string          `json:"-" koanf:"wrapped_key_base64"`
	Provider         ProviderType    `json:"provider,omitempty" koanf:"provider"`
	KeyID            string          `json:"keyId,omitempty" koanf:"key_id"`
	Region           string          `json:"region,omitempty" koanf:"region"`
	VaultAddress     string          `json:"vaultAddress,omitempty" koanf:"vault_address"`
	VaultMount       string          `json:"vaultMount,omitempty" koanf:"vault_mount"`
	AeadKeyBase64    string          `json:"-" koanf:"aead_key_base64"`
	Credentials      *KMSCredentials `json:"-" koanf:"credentials"`
}
