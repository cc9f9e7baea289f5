package ports

import "context"

// SecretReader fetches a secret by key. A key that was never stored, or
// whose value is empty, yields an error wrapping domain.ErrSecretNotFound.
type SecretReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// SecretStore is a key-value secret service. Put overwrites and Delete of a
// missing key is not an error for the local backends.
type SecretStore interface {
	SecretReader
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
