package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dacsson/lamarik/internal/vmerr"
)

func TestLoadFileMissing(t *testing.T) {
	_, err := loadFile(filepath.Join(t.TempDir(), "nope.bc"))
	require.Error(t, err)
	var notExist *vmerr.FileDoesNotExist
	assert.ErrorAs(t, err, &notExist)
}

func TestLoadFileRejectsDirectory(t *testing.T) {
	_, err := loadFile(t.TempDir())
	require.Error(t, err)
	var wrongType *vmerr.FileTypeError
	assert.ErrorAs(t, err, &wrongType)
}

func TestLoadFileReadsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bc")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644))

	data, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestNewLoggerNoTraceIsNop(t *testing.T) {
	logger, err := newLogger(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestNewLoggerTraceBuilds(t *testing.T) {
	logger, err := newLogger(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestRootCmdRequiresLamaFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
}
