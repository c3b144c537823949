package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/clienthub/automation/pkg/schema"
)

const (
	keyLen            = 32
	defaultIterations = 100_000
)

// VaultConfig selects the vault key. Either MasterKey carries the raw
// 32-byte key, or Passphrase + Salt derive one via PBKDF2.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, default 100_000
}

func (cfg VaultConfig) key() ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != keyLen {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be %d bytes, got %d", keyLen, len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	rounds := cfg.Iterations
	if rounds <= 0 {
		rounds = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, rounds, keyLen)
}

// AESVault seals secret values with AES-256-GCM before they reach the
// store; the nonce is prepended to each ciphertext.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault builds a vault over the given secret store.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := cfg.key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, value, nil)
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	size := v.aead.NonceSize()
	if len(sealed) < size {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	value, err := v.aead.Open(nil, sealed[:size], sealed[size:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return value, nil
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
