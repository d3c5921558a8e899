package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/piecework-payroll/logging"
)

func TestNewWithOutput_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithOutput(&buf, "debug", "json")

	log.WithField("employee_id", "emp-001").Info("payroll rebuilt")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "payroll rebuilt", entry["message"])
	assert.Equal(t, "emp-001", entry["employee_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "@timestamp")
}

func TestNewWithOutput_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithOutput(&buf, "info", "TEXT")

	log.Warn("gross clamped")
	assert.True(t, strings.Contains(buf.String(), `msg="gross clamped"`))
}

func TestNewWithOutput_Levels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, logging.NewWithOutput(&bytes.Buffer{}, "debug", "json").GetLevel())
	assert.Equal(t, logrus.InfoLevel, logging.NewWithOutput(&bytes.Buffer{}, "chatty", "json").GetLevel())

	var buf bytes.Buffer
	log := logging.NewWithOutput(&buf, "warn", "json")
	log.Info("dropped")
	assert.Empty(t, buf.String())
}
