package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

var ErrUnavailable = errors.New("pass command unavailable")

// DefaultNamespace is the pass folder secrets are stored under.
const DefaultNamespace = "botkeeper"

const missingEntryMarker = "is not in the password store"

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

// Store keeps secrets in the user's password-store. Only the first line of
// an entry is the secret, matching pass's own convention; further lines are
// free-form notes and are ignored.
type Store struct {
	run       runFunc
	namespace string
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(namespace string) *Store {
	return &Store{run: runPassCommand, namespace: strings.Trim(strings.TrimSpace(namespace), "/")}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stdout, stderr, err := s.run(ctx, "", "show", s.entry(key))
	if err != nil {
		return "", s.wrap("get", key, err, stderr)
	}

	secret, _, _ := strings.Cut(stdout, "\n")
	secret = strings.TrimRight(secret, "\r")
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("pass get %s: first line is empty: %w", key, domain.ErrSecretNotFound)
	}
	return secret, nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("pass put %s: secret must be a single line", key)
	}

	_, stderr, err := s.run(ctx, value+"\n", "insert", "--multiline", "--force", s.entry(key))
	if err != nil {
		return s.wrap("put", key, err, stderr)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, stderr, err := s.run(ctx, "", "rm", "--force", s.entry(key))
	if err != nil {
		return s.wrap("delete", key, err, stderr)
	}
	return nil
}

func (s *Store) entry(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + "/" + key
}

func (s *Store) wrap(op, key string, err error, stderr string) error {
	switch {
	case strings.Contains(stderr, missingEntryMarker):
		return fmt.Errorf("pass %s %s: %w", op, key, domain.ErrSecretNotFound)
	case stderr == "":
		return fmt.Errorf("pass %s %s: %w", op, key, err)
	default:
		return fmt.Errorf("pass %s %s: %w: %s", op, key, err, stderr)
	}
}

func runPassCommand(ctx context.Context, input string, args ...string) (string, string, error) {
	path, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}
