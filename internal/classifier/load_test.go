package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTableReadsPatternsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "safelist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns:\n  - \"aws s3 ls\"\n  - \"aws ec2 describe-\"\n"), 0o600))

	patterns, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"aws s3 ls", "aws ec2 describe-"}, patterns)
}

func TestLoadTableMissingPathReturnsNil(t *testing.T) {
	patterns, err := LoadTable(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Nil(t, patterns)
}

func TestLoadTableEmptyPathReturnsNil(t *testing.T) {
	patterns, err := LoadTable("")
	require.NoError(t, err)
	assert.Nil(t, patterns)
}

func TestLoadTrustExclusionsReadsAllThreeLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust_exclusions.yaml")
	content := "services:\n  - iam\nverbs:\n  - delete\nflags:\n  - \"--force\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	excl, err := LoadTrustExclusions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"iam"}, excl.Services)
	assert.Equal(t, []string{"delete"}, excl.Verbs)
	assert.Equal(t, []string{"--force"}, excl.Flags)
}

func TestLoadTrustExclusionsEmptyPathReturnsZeroValue(t *testing.T) {
	excl, err := LoadTrustExclusions("")
	require.NoError(t, err)
	assert.Equal(t, TrustExclusions{}, excl)
}
