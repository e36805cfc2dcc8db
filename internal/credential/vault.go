// Package credential keeps secrets encrypted at rest.
//
// The key is derived with scrypt from a passphrase built from local facts
// (host, user, data directory) and a random per-install salt kept next to
// the secrets. Nothing is exchanged with a server. Secrets are sealed with
// NaCl secretbox.
//
// Older installs stored secrets in plaintext under the bare name. Get
// migrates such a value the first time it is read.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/repository"
)

const (
	keyPrefix = "credential:"
	keySalt   = "credential_salt"
	version   = "v1:"

	// MirrorToken is the name the GitHub access token is stored under.
	MirrorToken = "mirror_token"

	defaultScryptN = 1 << 15
	saltSize       = 16
	nonceSize      = 24
)

var ErrDecrypt = errors.New("credential: cannot decrypt secret")

type Vault struct {
	repo       repository.SecretRepository
	passphrase []byte
	scryptN    int
	logger     *slog.Logger

	mu  sync.Mutex
	key *[32]byte
}

type Option func(*Vault)

// WithScryptCost overrides the scrypt N parameter. Tests use a small value.
func WithScryptCost(n int) Option {
	return func(v *Vault) { v.scryptN = n }
}

func New(repo repository.SecretRepository, passphrase string, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{
		repo:       repo,
		passphrase: []byte(passphrase),
		scryptN:    defaultScryptN,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// LocalPassphrase derives the passphrase from this machine's hostname, the
// current user and the data directory.
func LocalPassphrase(dataDir string) string {
	host, _ := os.Hostname()
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return strings.Join([]string{"streakwatch", host, name, dataDir}, "\x00")
}

func (v *Vault) Put(ctx context.Context, name string, secret []byte) error {
	sealed, err := v.seal(ctx, secret)
	if err != nil {
		return err
	}
	return v.repo.PutRaw(ctx, map[string][]byte{keyPrefix + name: sealed})
}

// Get returns the secret stored under name, or NotFound.
func (v *Vault) Get(ctx context.Context, name string) ([]byte, error) {
	sealed, ok, err := v.repo.GetRaw(ctx, keyPrefix+name)
	if err != nil {
		return nil, err
	}
	if ok {
		return v.open(ctx, sealed)
	}

	plain, ok, err := v.repo.GetRaw(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("credential", name)
	}
	if err := v.Put(ctx, name, plain); err != nil {
		return nil, fmt.Errorf("credential: migrating %s: %w", name, err)
	}
	if err := v.repo.RemoveRaw(ctx, name); err != nil {
		return nil, fmt.Errorf("credential: removing plaintext %s: %w", name, err)
	}
	v.logger.Info("migrated plaintext credential", slog.String("name", name))
	return plain, nil
}

// Delete removes the secret and any plaintext leftover.
func (v *Vault) Delete(ctx context.Context, name string) error {
	return v.repo.RemoveRaw(ctx, keyPrefix+name, name)
}

func (v *Vault) seal(ctx context.Context, secret []byte) ([]byte, error) {
	key, err := v.deriveKey(ctx)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("credential: generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], secret, &nonce, key)
	return []byte(version + base64.StdEncoding.EncodeToString(box)), nil
}

func (v *Vault) open(ctx context.Context, sealed []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(string(sealed), version)
	if !ok {
		return nil, ErrDecrypt
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	key, err := v.deriveKey(ctx)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// deriveKey loads or creates the install salt and runs scrypt once.
func (v *Vault) deriveKey(ctx context.Context) (*[32]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		return v.key, nil
	}

	salt, ok, err := v.repo.GetRaw(ctx, keySalt)
	if err != nil {
		return nil, err
	}
	if !ok {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("credential: generating salt: %w", err)
		}
		if err := v.repo.PutRaw(ctx, map[string][]byte{keySalt: salt}); err != nil {
			return nil, fmt.Errorf("credential: storing salt: %w", err)
		}
	}

	derived, err := scrypt.Key(v.passphrase, salt, v.scryptN, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("credential: deriving key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	v.key = &key
	return v.key, nil
}
