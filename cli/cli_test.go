package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calsync/config"
	"github.com/harperreed/calsync/db"
	calsync "github.com/harperreed/calsync/sync"
)

type testEnv struct {
	cfgPath string
	dbPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(dir, "calsync.db")
	cfg.TokenPath = filepath.Join(dir, "token.json")
	cfg.HolidayCountry = ""
	cfg.Sync.Interval = ""
	cfg.LogLevel = "error"

	env := &testEnv{cfgPath: filepath.Join(dir, "config.yaml"), dbPath: cfg.DatabasePath}
	require.NoError(t, config.Save(env.cfgPath, cfg))
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) onlyEventID(t *testing.T) string {
	t.Helper()
	conn, err := db.OpenDatabase(e.dbPath)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	events, err := db.NewEventStore(conn).List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0].ID
}

func TestEventCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "events", "add", "--title", "Dentist", "--start", "2025-03-11 09:00", "--location", "Main St")
	require.NoError(t, err)
	assert.Contains(t, out, "Created Dentist")
	assert.Contains(t, out, "stays local")

	id := env.onlyEventID(t)

	out, err = env.run(t, "events", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "↑")
	assert.Contains(t, out, "Dentist @ Main St")

	out, err = env.run(t, "events", "edit", id, "--title", "Dentist (moved)", "--no-push")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated Dentist (moved) [local]")

	out, err = env.run(t, "events", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Dentist (moved)")
	assert.Contains(t, out, "Main St")

	out, err = env.run(t, "events", "search", "moved")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 1 events")

	out, err = env.run(t, "events", "rm", id, "--no-push")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted")

	out, err = env.run(t, "events", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "No events found.")
}

func TestEventsAddAllDay(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "events", "add", "--title", "Offsite", "--start", "2025-03-12", "--no-push")
	require.NoError(t, err)

	out, err := env.run(t, "events", "show", env.onlyEventID(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Wed, Mar 12 (all day)")
}

func TestEventsAddValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "events", "add", "--title", "No start")
	assert.Error(t, err)

	_, err = env.run(t, "events", "add", "--title", "Bad color", "--start", "2025-03-11 09:00", "--color", "mauve")
	assert.Error(t, err)

	_, err = env.run(t, "events", "show", "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSyncRequiresAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "sync")
	assert.ErrorIs(t, err, calsync.ErrUnauthenticated)

	_, err = env.run(t, "auth", "login")
	assert.ErrorIs(t, err, calsync.ErrClientNotConfigured)

	out, err := env.run(t, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")
}

func TestResolveValidatesKeep(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "resolve", "abc", "--keep", "both")
	assert.ErrorContains(t, err, "--keep must be local or remote")

	_, err = env.run(t, "resolve", "abc", "--keep", "local")
	assert.Error(t, err)

	out, err := env.run(t, "conflicts")
	require.NoError(t, err)
	assert.Contains(t, out, "No conflicts.")
}

func TestHolidaysDisabled(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "holidays")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "database_path: "+env.dbPath)

	out, err = env.run(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, env.cfgPath)

	_, err = env.run(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = env.run(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestParseRedirect(t *testing.T) {
	code, state, err := parseRedirect("http://localhost:34115/oauth2/callback?code=4%2Fabc&state=xyz")
	require.NoError(t, err)
	assert.Equal(t, "4/abc", code)
	assert.Equal(t, "xyz", state)

	code, state, err = parseRedirect("4/bare-code")
	require.NoError(t, err)
	assert.Equal(t, "4/bare-code", code)
	assert.Empty(t, state)

	_, _, err = parseRedirect("http://localhost/cb?error=access_denied")
	assert.ErrorContains(t, err, "access_denied")

	_, _, err = parseRedirect("")
	assert.Error(t, err)
}

func TestRedirectAddr(t *testing.T) {
	addr, err := redirectAddr("http://localhost:34115/oauth2/callback")
	require.NoError(t, err)
	assert.Equal(t, "localhost:34115", addr)

	addr, err = redirectAddr("http://127.0.0.1/cb")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:80", addr)

	_, err = redirectAddr("not a url")
	assert.Error(t, err)
}
