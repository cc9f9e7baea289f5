package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	filestore "github.com/bnema/botkeeper/internal/adapters/secrets/file"
	kvstore "github.com/bnema/botkeeper/internal/adapters/secrets/kv"
	passstore "github.com/bnema/botkeeper/internal/adapters/secrets/pass"
	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

// Backend is one named member of a chain. The name only shows up in errors.
type Backend struct {
	Name  string
	Store ports.SecretStore
}

// Store tries its backends in order. Reads and writes stop at the first
// backend that succeeds; deletes reach every backend so a removed secret
// cannot come back from a fallback.
type Store struct {
	backends []Backend
}

var _ ports.SecretStore = (*Store)(nil)

var errNoBackends = errors.New("secret chain needs at least one backend")

func NewStore(backends ...Backend) (*Store, error) {
	if len(backends) == 0 {
		return nil, errNoBackends
	}
	for i, backend := range backends {
		if backend.Store == nil {
			return nil, fmt.Errorf("secret chain backend %d (%s) is nil", i, backend.Name)
		}
	}

	return &Store{backends: append([]Backend(nil), backends...)}, nil
}

func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(
		Backend{Name: "pass", Store: passstore.NewStore(passstore.DefaultNamespace)},
		Backend{Name: "file", Store: filestore.NewStore(fileRoot)},
	)
}

// NewKVFirstWithFileFallback reads the remote secret service first and falls
// back to a local file store, e.g. while the service is unreachable.
func NewKVFirstWithFileFallback(kvURL string, httpClient *http.Client, fileRoot string) (*Store, error) {
	remote, err := kvstore.NewStore(kvURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create kv secret store: %w", err)
	}
	return NewStore(
		Backend{Name: "kv", Store: remote},
		Backend{Name: "file", Store: filestore.NewStore(fileRoot)},
	)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, backend := range s.backends {
		value, err := backend.Store.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if isContextError(err) {
			return "", err
		}
		errs = append(errs, fmt.Errorf("%s get: %w", backend.Name, err))
	}

	return "", s.failure(errs)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for _, backend := range s.backends {
		err := backend.Store.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		if isContextError(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("%s put: %w", backend.Name, err))
	}

	return s.failure(errs)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, backend := range s.backends {
		err := backend.Store.Delete(ctx, key)
		if err == nil || errors.Is(err, domain.ErrSecretNotFound) {
			continue
		}
		if isContextError(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("%s delete: %w", backend.Name, err))
	}
	if len(errs) == 0 {
		return nil
	}

	return s.failure(errs)
}

func (s *Store) failure(errs []error) error {
	return fmt.Errorf("all %d secret backends failed: %w", len(s.backends), errors.Join(errs...))
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
