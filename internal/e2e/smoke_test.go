package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureState = `[{"key": "c_user", "value": "1000001"}]`

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)
	statePath := filepath.Join(home, "appstate.json")
	require.NoError(t, os.WriteFile(statePath, []byte(fixtureState), 0o600))

	env := []string{
		"HOME=" + home,
		"BOTKEEPER_STATE_PATH=" + statePath,
		"BOTKEEPER_SECRET_BACKEND=file",
		"BOTKEEPER_SECRET_SCRYPT_WORK_FACTOR=10",
	}

	_, stderr, code := runBotkeeper(t, binaryPath, env, "secret", "generate")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	_, stderr, code = runBotkeeper(t, binaryPath, env, "state", "encrypt")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	stdout, stderr, code := runBotkeeper(t, binaryPath, env, "status")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "No runtime recorded yet.")

	_, stderr, code = runBotkeeper(t, binaryPath, env, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "platform.base_url is required")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "botkeeper-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/botkeeper")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build botkeeper binary: %s", string(output))
	return binaryPath
}

// runBotkeeper runs the binary and returns its output and exit code.
func runBotkeeper(t *testing.T, binaryPath string, env []string, args ...string) (string, string, int) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	}
	require.NoError(t, err)
	return stdout.String(), stderr.String(), 0
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
