package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv writes a config pointing at a temp database and mirror.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
database:
  dsn: %q
mirror:
  dir: %q
log:
  level: error
`, filepath.Join(dir, "travel.db"), filepath.Join(dir, "mirror"))
	path := filepath.Join(dir, "travelstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitReportsReady(t *testing.T) {
	cfg := testEnv(t)
	out, err := run(t, cfg, "", "init")
	require.NoError(t, err)
	assert.Equal(t, "state: ready\nmode: durable\n", out)
}

func TestPutGetListDelete(t *testing.T) {
	cfg := testEnv(t)

	out, err := run(t, cfg, "", "put", "tours", `{"id":"t1","tourName":"Cappadocia","totalPrice":5000,"customerName":"Ayşe"}`)
	require.NoError(t, err)
	assert.Equal(t, "t1\n", out)

	out, err = run(t, cfg, "", "get", "tours", "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1","tourName":"Cappadocia","totalPrice":5000,"customerName":"Ayşe"}`, out)

	out, err = run(t, cfg, "", "list", "tours", "--where", "customerName=Ayşe")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Len(t, recs, 1)

	_, err = run(t, cfg, "", "delete", "tours", "t1")
	require.NoError(t, err)

	_, err = run(t, cfg, "", "get", "tours", "t1")
	assert.ErrorContains(t, err, "not found")

	out, err = run(t, cfg, "", "list", "tours")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestPutNewIDFromStdin(t *testing.T) {
	cfg := testEnv(t)

	out, err := run(t, cfg, `{"name":"Goreme Balloons"}`, "put", "providers", "--new-id")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "assigned id is a UUID")

	out, err = run(t, cfg, "", "get", "providers", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Goreme Balloons")
}

func TestCommandErrors(t *testing.T) {
	cfg := testEnv(t)

	_, err := run(t, cfg, "", "put", "tours", `{"tourName":"no id"}`)
	assert.ErrorContains(t, err, "primary key")

	_, err = run(t, cfg, "", "list", "hotels")
	assert.ErrorContains(t, err, "unknown collection")

	_, err = run(t, cfg, "", "list", "expenses", "--where", "type")
	assert.ErrorContains(t, err, "field=value")

	_, err = run(t, cfg, "", "clear", "tours")
	assert.ErrorContains(t, err, "--yes")

	_, err = run(t, cfg, "", "put", "tours", `not json`)
	assert.ErrorContains(t, err, "invalid record JSON")
}

func TestClearAndSync(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "", "put", "activities", `{"id":"a1","title":"Balloon"}`)
	require.NoError(t, err)

	_, err = run(t, cfg, "", "sync")
	require.NoError(t, err)
	_, err = run(t, cfg, "", "sync", "activities")
	require.NoError(t, err)

	_, err = run(t, cfg, "", "clear", "activities", "--yes")
	require.NoError(t, err)
	out, err := run(t, cfg, "", "list", "activities")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestSettingsShowAndSet(t *testing.T) {
	cfg := testEnv(t)

	out, err := run(t, cfg, "", "settings")
	require.NoError(t, err)
	assert.Contains(t, out, `"defaultCurrency": "TRY"`)

	out, err = run(t, cfg, "", "settings", "--set", `{"invoiceTemplate":"modern"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"invoiceTemplate": "modern"`)
	assert.Contains(t, out, `"id": "app-settings"`)
}

func TestExportImport(t *testing.T) {
	src := testEnv(t)
	_, err := run(t, src, "", "put", "tours", `{"id":"t1","tourName":"Cappadocia"}`)
	require.NoError(t, err)
	_, err = run(t, src, "", "put", "financials", `{"id":"f1","type":"income","amount":5000}`)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "backup.json")
	out, err := run(t, src, "", "export", file)
	require.NoError(t, err)
	assert.Equal(t, file+"\n", out)

	stdout, err := run(t, src, "", "export", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"toursData"`)

	dst := testEnv(t)
	out, err = run(t, dst, "", "import", file)
	require.NoError(t, err)
	assert.Equal(t, "imported 1 tours, 1 financial entries\n", out)

	out, err = run(t, dst, "", "get", "tours", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cappadocia")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"toursData":[]}`), 0o644))
	_, err = run(t, dst, "", "import", bad)
	assert.ErrorContains(t, err, "invalid backup file")
}
