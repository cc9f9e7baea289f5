// Package agesealer encrypts session state with an age scrypt recipient, using
// the secret fetched from the secret service as passphrase. The age file is
// base64-encoded into the envelope ciphertext.
package agesealer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

// DefaultWorkFactor is the scrypt log2(N) used when none is configured.
const DefaultWorkFactor = 15

const maxWorkFactor = 22

var errEmptySecret = errors.New("encryption secret is empty")

type Sealer struct {
	workFactor int
}

var _ ports.Sealer = (*Sealer)(nil)

func New(workFactor int) *Sealer {
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}
	if workFactor > maxWorkFactor {
		workFactor = maxWorkFactor
	}
	return &Sealer{workFactor: workFactor}
}

func (s *Sealer) Algorithm() string {
	return domain.EnvelopeAlgorithmAgeScrypt
}

func (s *Sealer) Seal(plaintext []byte, secret string) (domain.EncryptedEnvelope, error) {
	if secret == "" {
		return domain.EncryptedEnvelope{}, errEmptySecret
	}

	recipient, err := age.NewScryptRecipient(secret)
	if err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("create scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(s.workFactor)

	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("write plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("finalize age encryption: %w", err)
	}

	return domain.EncryptedEnvelope{
		Version:    domain.EnvelopeVersion,
		Algorithm:  s.Algorithm(),
		Ciphertext: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (s *Sealer) Open(envelope domain.EncryptedEnvelope, secret string) ([]byte, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	if envelope.Algorithm != s.Algorithm() {
		return nil, fmt.Errorf("unsupported envelope algorithm %q", envelope.Algorithm)
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode envelope ciphertext: %w", err)
	}

	identity, err := age.NewScryptIdentity(secret)
	if err != nil {
		return nil, fmt.Errorf("create scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(maxWorkFactor)

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt envelope: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read decrypted envelope: %w", err)
	}
	return plaintext, nil
}
