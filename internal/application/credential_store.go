package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

// DefaultSecretKey is the name the encryption secret is stored under in the
// secret service.
const DefaultSecretKey = "APPSTATE_SECRET_KEY"

// CredentialStore persists the session state to a single file, encrypting it
// when protection is on and a secret service is configured.
type CredentialStore struct {
	file      ports.StateFile
	secrets   ports.SecretReader
	sealer    ports.Sealer
	secretKey string
	encrypt   bool
}

// NewCredentialStore builds a store. Encryption is enabled only when protect
// is set and both secrets and sealer are non-nil.
func NewCredentialStore(file ports.StateFile, secrets ports.SecretReader, sealer ports.Sealer, secretKey string, protect bool) *CredentialStore {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		secretKey = DefaultSecretKey
	}

	return &CredentialStore{
		file:      file,
		secrets:   secrets,
		sealer:    sealer,
		secretKey: secretKey,
		encrypt:   protect && secrets != nil && sealer != nil,
	}
}

// Encrypted reports whether Load and Save use the encrypted envelope.
func (c *CredentialStore) Encrypted() bool {
	return c.encrypt
}

func (c *CredentialStore) Path() string {
	return c.file.Path()
}

func (c *CredentialStore) Load(ctx context.Context) (domain.SessionState, error) {
	var secret string
	if c.encrypt {
		value, err := c.secret(ctx)
		if err != nil {
			return nil, err
		}
		secret = value
	}

	data, err := c.file.Read(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: credential file %s does not exist: %w", domain.ErrCredential, c.file.Path(), err)
		}
		return nil, fmt.Errorf("%w: read credential file: %w", domain.ErrCredential, err)
	}

	if !c.encrypt {
		if domain.LooksLikeEnvelope(data) {
			return nil, fmt.Errorf("%w: credential file %s is encrypted but protection is disabled", domain.ErrCredential, c.file.Path())
		}
		state, err := domain.UnmarshalSessionState(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrCredential, err)
		}
		return state, nil
	}

	envelope, err := domain.UnmarshalEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredential, err)
	}

	plaintext, err := c.sealer.Open(envelope, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt credential file: %w", domain.ErrCredential, err)
	}

	state, err := domain.UnmarshalSessionState(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredential, err)
	}

	return state, nil
}

func (c *CredentialStore) Save(ctx context.Context, state domain.SessionState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: refuse to save: %w", domain.ErrCredential, err)
	}

	plaintext, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCredential, err)
	}

	content := plaintext
	if c.encrypt {
		secret, err := c.secret(ctx)
		if err != nil {
			return err
		}

		envelope, err := c.sealer.Seal(plaintext, secret)
		if err != nil {
			return fmt.Errorf("%w: encrypt session state: %w", domain.ErrCredential, err)
		}

		content, err = envelope.Marshal()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCredential, err)
		}
	}

	if err := c.file.Write(ctx, content); err != nil {
		return fmt.Errorf("%w: write credential file: %w", domain.ErrCredential, err)
	}

	return nil
}

// Discard deletes the credential file so the next start begins without one.
func (c *CredentialStore) Discard(ctx context.Context) error {
	if err := c.file.Remove(ctx); err != nil {
		return fmt.Errorf("%w: discard credential file: %w", domain.ErrCredential, err)
	}
	return nil
}

func (c *CredentialStore) secret(ctx context.Context) (string, error) {
	value, err := c.secrets.Get(ctx, c.secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w: get secret %q: %w", domain.ErrCredential, domain.ErrSecretService, c.secretKey, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %w: secret %q is empty", domain.ErrCredential, domain.ErrSecretService, c.secretKey)
	}

	return value, nil
}
