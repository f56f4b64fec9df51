package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/spf13/viper"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 is a convenience wrapper that reads from a KV v2 backend and
// returns the inner "data" map, unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// overlayVaultSecrets reads the KV v2 path named by VAULT_SECRET_PATH
// (default secret/data/p8fs) and overlays each entry onto the viper
// instance. Secret keys are UPPER_SNAKE (e.g. POSTGRES_DSN) and map onto
// the dotted config keys, so Vault values take precedence over both file
// and environment.
func overlayVaultSecrets(v *viper.Viper) error {
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		token = "root"
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "secret/data/p8fs"
	}

	manager, err := NewSecretManager(os.Getenv("VAULT_ADDR"), token)
	if err != nil {
		return err
	}
	secrets, err := manager.GetKV2(path)
	if err != nil {
		return fmt.Errorf("failed to load secrets from vault: %w", err)
	}

	for key, val := range secrets {
		// POSTGRES_DSN → postgres.dsn; nested sections use the same split.
		parts := strings.SplitN(strings.ToLower(key), "_", 2)
		if len(parts) != 2 {
			continue
		}
		v.Set(parts[0]+"."+parts[1], val)
	}
	return nil
}
