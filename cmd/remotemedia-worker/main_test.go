// SPDX-License-Identifier: MIT

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestLoadParamsFromFlag(t *testing.T) {
	params, err := loadParams(`{"factor": 2}`, false)
	assert.NoError(t, err)
	assert.Equal(t, 2.0, params["factor"])
}

func TestLoadParamsEmptyWhenNeitherSet(t *testing.T) {
	params, err := loadParams("", false)
	assert.NoError(t, err)
	assert.Nil(t, params)
}

func TestLoadParamsRejectsInvalidJSON(t *testing.T) {
	_, err := loadParams("not json", false)
	assert.Error(t, err)
}

func TestRunRejectsMissingRequiredFlags(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	err := run(logger, "", "node", "session", "/tmp", "", false, nil)
	assert.Error(t, err)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
