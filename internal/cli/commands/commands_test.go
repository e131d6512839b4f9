package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/testutil"
)

const ggvisRd = `\name{layer_points}
\title{Display data with points}
\usage{layer_points(vis, ...)}
`

// setupEnv points configuration at a fresh SQLite file and returns a
// directory for input files
func setupEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", filepath.Join(dir, "registry.db"))
	t.Setenv("REGISTRY_DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("REGISTRY_LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestAndShow(t *testing.T) {
	dir := setupEnv(t)

	out, err := execute(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied")

	out, err = execute(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 pending")

	manifest := writeFile(t, dir, "DESCRIPTION", testutil.Manifest("ggvis", "0.1", "Imports: dplyr"))
	out, err = execute(t, "ingest", "version", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "Created ggvis 0.1")

	_, err = execute(t, "ingest", "version", manifest)
	require.Error(t, err)
	assert.True(t, registry.IsConflict(err))

	rd := writeFile(t, dir, "layer_points.Rd", ggvisRd)
	out, err = execute(t, "ingest", "topic", "--package", "ggvis", "--version", "0.1", rd)
	require.NoError(t, err)
	assert.Contains(t, out, "Created topic layer_points")

	out, err = execute(t, "show", "ggvis", "0.1", "--output", "yaml")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "/api/packages/ggvis/versions/0.1", doc["uri"])
	assert.Equal(t, "ggvis", doc["package_name"])
	topics, ok := doc["topics"].([]any)
	require.True(t, ok)
	assert.Len(t, topics, 1)

	out, err = execute(t, "show", "ggvis", "0.1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "The ggvis package", doc["title"])

	_, err = execute(t, "show", "ggvis", "9.9")
	require.Error(t, err)
	assert.True(t, registry.IsNotFound(err))

	_, err = execute(t, "show", "ggvis", "0.1", "--output", "xml")
	assert.Error(t, err)
}

func TestIngest_TopicNeedsVersion(t *testing.T) {
	dir := setupEnv(t)

	_, err := execute(t, "migrate", "up")
	require.NoError(t, err)

	rd := writeFile(t, dir, "layer_points.Rd", ggvisRd)
	_, err = execute(t, "ingest", "topic", "--package", "ggvis", "--version", "0.1", rd)
	require.Error(t, err)
	assert.True(t, registry.IsNotFound(err))

	_, err = execute(t, "ingest", "topic", rd)
	assert.EqualError(t, err, "--package and --version are required")
}

func TestIngest_RequiresDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REGISTRY_DATABASE_URL", "")

	path := writeFile(t, dir, "DESCRIPTION", testutil.Manifest("ggvis", "0.1"))
	_, err := execute(t, "ingest", "version", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL not set")
}

func TestEnqueue(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	mr := miniredis.RunT(t)
	t.Setenv("REGISTRY_QUEUE_REDIS_ADDR", mr.Addr())
	t.Setenv("REGISTRY_LOG_LEVEL", "error")

	manifest := writeFile(t, dir, "DESCRIPTION", testutil.Manifest("ggvis", "0.1"))
	out, err := execute(t, "enqueue", "--type", "version", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "Enqueued version message")

	rd := writeFile(t, dir, "layer_points.Rd", ggvisRd)
	_, err = execute(t, "enqueue", "--type", "topic", "-p", "ggvis", "-V", "0.1", rd)
	require.NoError(t, err)

	entries, err := mr.List("registry:ingest")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	// LPUSH puts the newest entry first
	require.NoError(t, json.Unmarshal([]byte(entries[1]), &msg))
	assert.Equal(t, ingest.TypeVersion, msg.Type)
	req, err := ingest.Decode(msg.Type, msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, testutil.Manifest("ggvis", "0.1"), req.(*ingest.VersionRequest).Input.Raw)

	require.NoError(t, json.Unmarshal([]byte(entries[0]), &msg))
	req, err = ingest.Decode(msg.Type, msg.Payload)
	require.NoError(t, err)
	topic := req.(*ingest.TopicRequest)
	assert.Equal(t, "ggvis", topic.PackageName)
	assert.Equal(t, ggvisRd, topic.Input.Rd)
}

func TestEnqueue_RejectsInvalidPayload(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	mr := miniredis.RunT(t)
	t.Setenv("REGISTRY_QUEUE_REDIS_ADDR", mr.Addr())

	path := writeFile(t, dir, "review.json", `{"rating": 5}`)
	_, err := execute(t, "enqueue", "--type", "review", path)
	require.Error(t, err)

	path = writeFile(t, dir, "topic.json", `{"name": "x"}`)
	_, err = execute(t, "enqueue", "--type", "topic", path)
	require.Error(t, err)
	assert.True(t, registry.IsValidation(err))

	assert.False(t, mr.Exists("registry:ingest"), "nothing is enqueued")
}

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		content string
		pkg     string
		version string
		want    string
		wantErr bool
	}{
		{name: "description text", typ: ingest.TypeVersion, content: "Package: x\n", want: `"Package: x\n"`},
		{name: "json manifest", typ: ingest.TypeVersion, content: ` {"PackageName": "x"} `, want: `{"PackageName": "x"}`},
		{name: "rd with flags", typ: ingest.TypeTopic, content: `\name{x}`, pkg: "x", version: "1.0",
			want: `{"package":{"package":"x","version":"1.0"},"rd":"\\name{x}"}`},
		{name: "json topic with flags", typ: ingest.TypeTopic, content: `{"name": "x", "title": "T"}`, pkg: "x", version: "1.0",
			want: `{"name":"x","package":{"package":"x","version":"1.0"},"title":"T"}`},
		{name: "json topic as is", typ: ingest.TypeTopic, content: `{"package": {"package": "x", "version": "1.0"}}`,
			want: `{"package": {"package": "x", "version": "1.0"}}`},
		{name: "rd without flags", typ: ingest.TypeTopic, content: `\name{x}`, wantErr: true},
		{name: "unknown type", typ: "review", content: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.typ, []byte(tt.content), tt.pkg, tt.version)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
