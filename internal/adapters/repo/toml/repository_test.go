package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, path string) *Repository {
	t.Helper()

	config := viper.New()
	config.Set(RuntimePathKey, path)

	repo, err := NewRepository(config)
	require.NoError(t, err)
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "runtime.toml"))

	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)
	record := domain.RuntimeRecord{
		BotID:               "1000001",
		StartedAt:           now,
		LastLoginAt:         now.Add(time.Second),
		LastCheckpointAt:    now.Add(12 * time.Hour),
		LastCheckpointError: "",
		LastRotationAt:      now.Add(2 * time.Hour),
		ListenerID:          "01890a5d-ac96-774b-bcce-b302099a8057",
		Rotations:           6,
		Restarts:            2,
		Encrypted:           true,
	}

	require.NoError(t, repo.Save(context.Background(), record))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestRepositoryLoadMissingFileReturnsNotFound(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "missing", "runtime.toml"))

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRuntimeNotFound)
}

func TestRepositorySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	repo, err := NewRepository(viper.New())
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.RuntimeRecord{BotID: "1000001"}))

	runtimePath := filepath.Join(homeDir, ".botkeeper", "runtime.toml")
	assert.Equal(t, runtimePath, repo.Path())

	info, err := os.Stat(runtimePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(runtimePath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestRepositoryLoadMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	runtimePath := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(runtimePath, []byte("[bot"), 0o600))

	_, err := newTestRepository(t, runtimePath).Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode runtime file")
}

func TestRepositoryToleratesMissingSections(t *testing.T) {
	t.Parallel()

	runtimePath := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(runtimePath, []byte(strings.Join([]string{
		"version = 1",
		"",
		"[bot]",
		"id = \"1000001\"",
		"started_at = \"not-a-time\"",
		"",
	}, "\n")), 0o600))

	got, err := newTestRepository(t, runtimePath).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000001", got.BotID)
	assert.True(t, got.StartedAt.IsZero())
	assert.Zero(t, got.Rotations)
	assert.Empty(t, got.ListenerID)
}

func TestRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "runtime.toml"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Save(ctx, domain.RuntimeRecord{BotID: "1000001"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRepositoryConcurrentSavesAcrossInstancesLeaveValidFile(t *testing.T) {
	t.Parallel()

	runtimePath := filepath.Join(t.TempDir(), "runtime.toml")
	repoA := newTestRepository(t, runtimePath)
	repoB := newTestRepository(t, runtimePath)

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	for _, repo := range []*Repository{repoA, repoB} {
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perRepoWrites; i++ {
				errCh <- repo.Save(context.Background(), domain.RuntimeRecord{BotID: "1000001", Rotations: int64(i)})
			}
		}()
	}

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := repoA.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(perRepoWrites-1), got.Rotations)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(runtimePath), ".runtime-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRepositorySaveSerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	runtimePath := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, newTestRepository(t, runtimePath).Save(context.Background(), domain.RuntimeRecord{BotID: "1000001"}))

	data, err := os.ReadFile(runtimePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "[bot]")
}

func TestRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	runtimePath := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(runtimePath, []byte("version = 999\n"), 0o600))

	_, err := newTestRepository(t, runtimePath).Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported runtime schema version")
}
