package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	EnvelopeVersion            = 1
	EnvelopeAlgorithmAgeScrypt = "age-scrypt"
)

// EncryptedEnvelope wraps a sealed SessionState on disk.
type EncryptedEnvelope struct {
	Version    int    `json:"version"`
	Algorithm  string `json:"algorithm"`
	Ciphertext string `json:"ciphertext"`
}

func (e EncryptedEnvelope) Validate() error {
	if e.Version > EnvelopeVersion {
		return fmt.Errorf("unsupported envelope version %d (current %d)", e.Version, EnvelopeVersion)
	}
	if e.Algorithm == "" {
		return fmt.Errorf("envelope algorithm is required")
	}
	if e.Ciphertext == "" {
		return fmt.Errorf("envelope ciphertext is empty")
	}
	return nil
}

func (e EncryptedEnvelope) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

func UnmarshalEnvelope(data []byte) (EncryptedEnvelope, error) {
	if !LooksLikeEnvelope(data) {
		return EncryptedEnvelope{}, fmt.Errorf("content is not an encrypted envelope")
	}
	var envelope EncryptedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return EncryptedEnvelope{}, err
	}
	return envelope, nil
}

// LooksLikeEnvelope reports whether data is a JSON object, which is the
// envelope shape. A plain SessionState is always a JSON array.
func LooksLikeEnvelope(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
