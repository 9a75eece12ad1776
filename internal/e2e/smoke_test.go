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

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	stdout, stderr, err := runGS(t, binaryPath, home, "actions")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "public-transport")

	_, stderr, err = runGS(t, binaryPath, home, "prefs", "set", "--theme", "light")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err = runGS(t, binaryPath, home, "prefs", "show")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "theme: light")

	stdout, stderr, err = runGS(t, binaryPath, home, "score")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Score not loaded.")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "gs-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/gs")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build gs binary: %s", string(output))
	return binaryPath
}

func runGS(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "HOME="+home)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
