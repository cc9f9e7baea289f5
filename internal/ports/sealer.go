package ports

import "github.com/bnema/botkeeper/internal/domain"

type Sealer interface {
	Algorithm() string
	Seal(plaintext []byte, secret string) (domain.EncryptedEnvelope, error)
	Open(envelope domain.EncryptedEnvelope, secret string) ([]byte, error)
}
