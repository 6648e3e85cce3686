/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"DEBUG":   logrus.DebugLevel,
		"":        logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		" error ": logrus.ErrorLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), "level %q", in)
	}
}

func TestNewLoggerIsRegisteredOnce(t *testing.T) {
	a := NewLogger("REGISTRY")
	b := NewLogger("REGISTRY")
	assert.Same(t, a, b)

	assert.True(t, SetLoggerLevel("REGISTRY", "error"))
	assert.Equal(t, logrus.ErrorLevel, a.GetLevel())
	assert.False(t, SetLoggerLevel("NO_SUCH_LOGGER", "debug"))
}

func TestLog4jFormatterWritesSortedFields(t *testing.T) {
	f := &Log4jFormatter{LoggerName: "DATABASE", NameWidth: 10}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "session opened",
		Data:    logrus.Fields{"type": "MongoDB", "session": "abc"},
	}
	out, err := f.Format(entry)
	require.NoError(t, err)
	line := string(out)
	assert.Contains(t, line, "2025-01-02 03:04:05.000")
	assert.Contains(t, line, " INFO ")
	assert.Contains(t, line, "[  DATABASE]")
	assert.Contains(t, line, "session opened session=abc type=MongoDB\n")
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "FILESTORE"}
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.WarnLevel,
		Message: "upload failed",
		Data:    logrus.Fields{"error": errors.New("boom")},
	}
	out, err := f.Format(entry)
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &rec))
	assert.Equal(t, "warning", rec["level"])
	assert.Equal(t, "FILESTORE", rec["logger"])
	assert.Equal(t, "boom", rec["fields"].(map[string]interface{})["error"])
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("DOCSTORE_TEST_BOOL", "true")
	t.Setenv("DOCSTORE_TEST_DURATION", "15")
	t.Setenv("DOCSTORE_TEST_BAD_BOOL", "nope")
	assert.True(t, EnvDefaultBool("DOCSTORE_TEST_BOOL", false))
	assert.True(t, EnvDefaultBool("DOCSTORE_TEST_BAD_BOOL", true))
	assert.Equal(t, 15*time.Second, EnvDefaultDuration("DOCSTORE_TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", EnvDefaultString("DOCSTORE_TEST_UNSET", "fallback"))
}
