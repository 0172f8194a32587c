// Package vault seals provider API keys at rest. The sealing key is derived
// with Argon2id from a passphrase held only in memory and a random salt kept
// in vault_meta; a sealed verifier detects a wrong passphrase.
package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hazyhaar/codementor/mentor/internal/store"
)

// MinPassphrase is the shortest accepted master passphrase.
const MinPassphrase = 16

var (
	// ErrLocked means the passphrase is missing, too short or wrong.
	ErrLocked = errors.New("vault: locked")
	// ErrInvalidKey means an API key failed validation.
	ErrInvalidKey = errors.New("vault: invalid api key")
	// ErrUnknownProvider means the provider has no key pattern.
	ErrUnknownProvider = errors.New("vault: unknown provider")
)

const (
	saltSize = 16
	verifier = "codementor vault v1"
)

// Pattern is the shape a provider's API key must have.
type Pattern struct {
	Prefix    string
	MinLength int
}

// Patterns maps provider names to their key pattern.
var Patterns = map[string]Pattern{
	"openai": {Prefix: "sk-", MinLength: 32},
	"google": {Prefix: "AIza", MinLength: 39},
}

// Validate checks key against the provider's pattern.
func Validate(provider, key string) error {
	p, ok := Patterns[provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if p.Prefix != "" && !strings.HasPrefix(key, p.Prefix) {
		return fmt.Errorf("%w: %s keys start with %q", ErrInvalidKey, provider, p.Prefix)
	}
	if len(key) < p.MinLength {
		return fmt.Errorf("%w: %s keys are at least %d characters", ErrInvalidKey, provider, p.MinLength)
	}
	return nil
}

// KDF holds the Argon2id cost parameters.
type KDF struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF follows the RFC 9106 second recommended option.
var DefaultKDF = KDF{Time: 3, Memory: 64 * 1024, Threads: 4}

// Vault encrypts and decrypts provider keys. Safe for concurrent use.
type Vault struct {
	store *store.Store
	key   []byte
}

// Open unlocks the vault of st with passphrase, initialising the vault
// metadata on first use.
func Open(ctx context.Context, st *store.Store, passphrase string, kdf KDF) (*Vault, error) {
	if len(passphrase) < MinPassphrase {
		return nil, fmt.Errorf("%w: master passphrase must be at least %d characters", ErrLocked, MinPassphrase)
	}
	if kdf.Time == 0 {
		kdf = DefaultKDF
	}

	meta, err := st.GetVaultMeta(ctx)
	if errors.Is(err, store.ErrNotFound) {
		meta, err = initMeta(ctx, st, passphrase, kdf)
	}
	if err != nil {
		return nil, err
	}

	key := derive(passphrase, meta.Salt, kdf)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	plain, err := aead.Open(nil, meta.VerifierNonce, meta.Verifier, nil)
	if err != nil || string(plain) != verifier {
		return nil, fmt.Errorf("%w: wrong master passphrase", ErrLocked)
	}
	return &Vault{store: st, key: key}, nil
}

func initMeta(ctx context.Context, st *store.Store, passphrase string, kdf KDF) (*store.VaultMeta, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: salt: %w", err)
	}
	nonce, sealed, err := seal(derive(passphrase, salt, kdf), []byte(verifier), nil)
	if err != nil {
		return nil, err
	}
	// A concurrent initialiser may win; InitVaultMeta returns its row.
	return st.InitVaultMeta(ctx, &store.VaultMeta{Salt: salt, VerifierNonce: nonce, Verifier: sealed})
}

func derive(passphrase string, salt []byte, kdf KDF) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdf.Time, kdf.Memory, kdf.Threads, chacha20poly1305.KeySize)
}

func seal(key, plain, ad []byte) (nonce, sealed []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plain, ad), nil
}

// Store validates and seals key for provider, replacing any previous key.
// The provider name is bound to the ciphertext as associated data.
func (v *Vault) Store(ctx context.Context, provider, key string) error {
	key = strings.TrimSpace(key)
	if err := Validate(provider, key); err != nil {
		return err
	}
	nonce, sealed, err := seal(v.key, []byte(key), []byte(provider))
	if err != nil {
		return err
	}
	return v.store.PutKey(ctx, &store.SealedKey{Provider: provider, Nonce: nonce, Ciphertext: sealed})
}

// Get returns the plaintext key of provider, or store.ErrNotFound.
func (v *Vault) Get(ctx context.Context, provider string) (string, error) {
	k, err := v.store.GetKey(ctx, provider)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: cipher: %w", err)
	}
	plain, err := aead.Open(nil, k.Nonce, k.Ciphertext, []byte(provider))
	if err != nil {
		return "", fmt.Errorf("%w: cannot open %s key", ErrLocked, provider)
	}
	return string(plain), nil
}

// Clear removes the key of provider, or every key when provider is empty.
// It returns the number of keys removed.
func (v *Vault) Clear(ctx context.Context, provider string) (int64, error) {
	if provider != "" {
		if _, ok := Patterns[provider]; !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
		}
	}
	return v.store.DeleteKey(ctx, provider)
}

// Providers lists the providers that have a stored key.
func (v *Vault) Providers(ctx context.Context) ([]store.KeyInfo, error) {
	return v.store.ListKeys(ctx)
}
