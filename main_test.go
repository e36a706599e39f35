package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPassword_Pipe(t *testing.T) {
	var out bytes.Buffer
	pw, err := readPassword(&out, strings.NewReader("segredo123\n"), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "segredo123", pw)

	pw, err = readPassword(&out, strings.NewReader("semnovalinha"), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "semnovalinha", pw)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
mode: release
database:
  driver: sqlite3
  path: ` + filepath.Join(dir, "library.db") + `
auth:
  jwt_secret: 0123456789abcdef0123456789abcdef
log:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndCreateAdmin(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "", "--config", cfg, "migrate", "up")
	require.NoError(t, err)

	out, err := run(t, "segredo123\n", "--config", cfg, "user", "create",
		"--email", "Admin@Example.com", "--name", "Admin", "--birth-date", "1980-01-01", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "email=admin@example.com role=admin")

	_, err = run(t, "segredo123\n", "--config", cfg, "user", "create",
		"--email", "admin@example.com", "--name", "Admin", "--birth-date", "1980-01-01")
	assert.Error(t, err, "duplicate email")

	_, err = run(t, "segredo123\n", "--config", cfg, "user", "create", "--name", "x")
	assert.Error(t, err, "required flags")
}
