package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsense/soil-agent/pkg/file"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestFileService_WriteJsonFile_ReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs := file.NewFileService()

	require.NoError(t, fs.WriteJsonFile(path, sample{Name: "probe", Count: 3}))

	var got sample
	require.NoError(t, fs.ReadJsonFile(path, &got))
	assert.Equal(t, sample{Name: "probe", Count: 3}, got)

	// The temp file used for the atomic write must be gone.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileService_ReadYamlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: probe\ncount: 3\n"), 0o644))

	var got sample
	require.NoError(t, file.NewFileService().ReadYamlFile(path, &got))
	assert.Equal(t, sample{Name: "probe", Count: 3}, got)
}

func TestFileService_ReadJsonFile_Missing(t *testing.T) {
	var got sample
	err := file.NewFileService().ReadJsonFile(filepath.Join(t.TempDir(), "nope.json"), &got)
	assert.True(t, os.IsNotExist(err))
}
