package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Root  string `yaml:"root"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	s.valid = true
	if s.Root == "" {
		return errors.New("root is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("NB_TEST_ROOT", "/srv/notes")
	p := writeFile(t, "root: ${NB_TEST_ROOT}\n")

	s := sample{Port: 8080}
	require.NoError(t, Load(p, &s))
	assert.Equal(t, "/srv/notes", s.Root)
	assert.Equal(t, 8080, s.Port)
	assert.True(t, s.valid)
}

func TestLoadValidationFailure(t *testing.T) {
	p := writeFile(t, "port: 1\n")
	err := Load(p, &sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoadBadYAML(t *testing.T) {
	p := writeFile(t, "root: [unclosed\n")
	err := Load(p, &sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadOptional(t *testing.T) {
	s := sample{Root: "./notes"}
	read, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &s)
	require.NoError(t, err)
	assert.False(t, read)
	assert.True(t, s.valid)

	read, err = LoadOptional("", &sample{})
	assert.False(t, read)
	assert.Error(t, err)

	p := writeFile(t, "root: /x\n")
	read, err = LoadOptional(p, &s)
	require.NoError(t, err)
	assert.True(t, read)
	assert.Equal(t, "/x", s.Root)
}
