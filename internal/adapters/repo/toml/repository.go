package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	RuntimePathKey = "runtime.path"

	runtimeFileMode   = 0o600
	runtimeDirMode    = 0o700
	runtimeConfigDir  = ".botkeeper"
	runtimeConfigFile = "runtime.toml"
	tempFilePattern   = ".runtime-*.toml.tmp"
)

// Repository stores the runtime ledger as a TOML file.
type Repository struct {
	runtimePath string
	mu          *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.RuntimeRepository = (*Repository)(nil)

// DefaultPath is the ledger location used when runtime.path is unset.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, runtimeConfigDir, runtimeConfigFile), nil
}

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	runtimePath := cfg.GetString(RuntimePathKey)
	if runtimePath == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		runtimePath = defaultPath
	}

	runtimePath, err := normalizeRuntimePath(runtimePath)
	if err != nil {
		return nil, err
	}

	return &Repository{runtimePath: runtimePath, mu: lockForPath(runtimePath)}, nil
}

func (r *Repository) Path() string {
	return r.runtimePath
}

func (r *Repository) Load(ctx context.Context) (domain.RuntimeRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuntimeRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, found, err := r.readSchema()
	if err != nil {
		return domain.RuntimeRecord{}, err
	}
	if !found {
		return domain.RuntimeRecord{}, fmt.Errorf("%w: %s", domain.ErrRuntimeNotFound, r.runtimePath)
	}

	return fromSchema(file), nil
}

func (r *Repository) Save(ctx context.Context, record domain.RuntimeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writeSchema(toSchema(record))
}

func (r *Repository) readSchema() (fileSchema, bool, error) {
	data, err := os.ReadFile(r.runtimePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, false, nil
		}
		return fileSchema{}, false, fmt.Errorf("read runtime file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, false, fmt.Errorf("decode runtime file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, false, err
	}
	file.applyDefaults()

	return file, true, nil
}

func normalizeRuntimePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve runtime path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.runtimePath), runtimeDirMode); err != nil {
		return fmt.Errorf("create runtime directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode runtime file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.runtimePath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp runtime file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp runtime file: %w", err)
	}

	if err := tempFile.Chmod(runtimeFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp runtime file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp runtime file: %w", err)
	}

	if err := os.Rename(tempName, r.runtimePath); err != nil {
		return fmt.Errorf("replace runtime file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(record domain.RuntimeRecord) fileSchema {
	return fileSchema{
		Bot: botSchema{
			ID:          record.BotID,
			StartedAt:   formatTime(record.StartedAt),
			LastLoginAt: formatTime(record.LastLoginAt),
			Restarts:    record.Restarts,
			Encrypted:   record.Encrypted,
		},
		Listener: listenerSchema{
			ID:             string(record.ListenerID),
			LastRotationAt: formatTime(record.LastRotationAt),
			Rotations:      record.Rotations,
		},
		Checkpoint: checkpointSchema{
			LastAt:    formatTime(record.LastCheckpointAt),
			LastError: record.LastCheckpointError,
		},
	}
}

func fromSchema(file fileSchema) domain.RuntimeRecord {
	return domain.RuntimeRecord{
		BotID:               file.Bot.ID,
		StartedAt:           parseTime(file.Bot.StartedAt),
		LastLoginAt:         parseTime(file.Bot.LastLoginAt),
		Restarts:            file.Bot.Restarts,
		Encrypted:           file.Bot.Encrypted,
		ListenerID:          domain.ListenerID(file.Listener.ID),
		LastRotationAt:      parseTime(file.Listener.LastRotationAt),
		Rotations:           file.Listener.Rotations,
		LastCheckpointAt:    parseTime(file.Checkpoint.LastAt),
		LastCheckpointError: file.Checkpoint.LastError,
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
