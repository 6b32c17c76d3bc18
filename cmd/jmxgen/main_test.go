package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perf-agent-server/internal/config"
)

const testJMX = `<?xml version="1.0" encoding="UTF-8"?><jmeterTestPlan version="1.2"/>`

func TestReadPrompt(t *testing.T) {
	t.Run("joins args", func(t *testing.T) {
		prompt, err := readPrompt([]string{"Create", "a", "plan"}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "Create a plan", prompt)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scenario.txt")
		require.NoError(t, os.WriteFile(path, []byte("100 users hit /login\n"), 0o600))

		prompt, err := readPrompt(nil, path, nil)
		require.NoError(t, err)
		assert.Equal(t, "100 users hit /login\n", prompt)
	})

	t.Run("reads stdin", func(t *testing.T) {
		prompt, err := readPrompt(nil, "-", strings.NewReader("from stdin"))
		require.NoError(t, err)
		assert.Equal(t, "from stdin", prompt)
	})

	t.Run("rejects args with file", func(t *testing.T) {
		_, err := readPrompt([]string{"x"}, "-", strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readPrompt(nil, filepath.Join(t.TempDir(), "nope.txt"), nil)
		assert.ErrorContains(t, err, "failed to read prompt")
	})
}

func TestSchemaCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := schemaCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	var printed struct {
		Name   string `json:"name"`
		Schema struct {
			Type     string   `json:"type"`
			Required []string `json:"required"`
		} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, "jmeter_test_plan", printed.Name)
	assert.Equal(t, "object", printed.Schema.Type)
	assert.Equal(t, []string{"jmxContent"}, printed.Schema.Required)
}

func TestGenerateCmd_EmptyPrompt(t *testing.T) {
	cmd := generateCmd()
	cmd.SetArgs([]string{"   "})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	assert.EqualError(t, err, "Prompt cannot be empty.")
}

func newOllamaServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3",
			"message":           map[string]string{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        40,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ollamaConfig(baseURL string) *config.Config {
	return &config.Config{AI: config.AIConfig{ClientType: "ollama", BaseURL: baseURL, Model: "llama3"}}
}

func TestRunGenerate(t *testing.T) {
	body, err := json.Marshal(map[string]string{"jmxContent": testJMX})
	require.NoError(t, err)
	srv := newOllamaServer(t, string(body), http.StatusOK)

	t.Run("stdout", func(t *testing.T) {
		var out bytes.Buffer
		err := runGenerate(context.Background(), ollamaConfig(srv.URL), "login test", "", &out, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, testJMX+"\n", out.String())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.jmx")
		var out bytes.Buffer
		err := runGenerate(context.Background(), ollamaConfig(srv.URL), "login test", path, &out, zap.NewNop())
		require.NoError(t, err)
		assert.Empty(t, out.String())

		written, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, testJMX, string(written))
	})
}

func TestRunGenerate_InvalidContent(t *testing.T) {
	srv := newOllamaServer(t, `{"jmxContent":"not xml"}`, http.StatusOK)

	err := runGenerate(context.Background(), ollamaConfig(srv.URL), "login test", "", &bytes.Buffer{}, zap.NewNop())
	assert.EqualError(t, err, "Error: Failed to generate plan. Invalid generated content received from AI.")
}

func TestRunGenerate_UpstreamError(t *testing.T) {
	srv := newOllamaServer(t, "", http.StatusNotFound)

	err := runGenerate(context.Background(), ollamaConfig(srv.URL), "login test", "", &bytes.Buffer{}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Error: Failed to generate plan. "))
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	t.Setenv("DB_ENABLED", "false")

	for _, args := range [][]string{{"up"}, {"down", "--steps", "2"}, {"version"}} {
		cmd := migrateCmd()
		cmd.SetArgs(args)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		assert.EqualError(t, cmd.Execute(), "migrate requires DB_ENABLED=true", args[0])
	}
}

func TestMigrateCmd_RejectsArgs(t *testing.T) {
	cmd := migrateCmd()
	cmd.SetArgs([]string{"version", "extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
