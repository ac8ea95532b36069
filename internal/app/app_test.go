package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/scheduler"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// setupHome points the state directory at a temp dir and forces mock APIs.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("AUTOPILOT_HOME", home)
	for _, k := range []string{"AUTOPILOT_CONFIG", "CONSOLE_API_KEY", "RECOMMENDER_API_KEY", "AKASHML_API_KEY",
		"DB_DRIVER", "DB_PATH", "DATABASE_URL", "POLICY_FILE", "KAFKA_BROKERS", "ARCHIVE_BUCKET", "ARCHIVE_PREFIX"} {
		t.Setenv(k, "")
	}
	t.Setenv("USE_MOCK_APIS", "true")
	t.Setenv("LOG_LEVEL", "error")
	return home
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(RootCmd)

	buf := &bytes.Buffer{}
	RootCmd.SetOut(buf)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func seedLedger(t *testing.T, home string) {
	t.Helper()
	st, err := store.New(filepath.Join(home, "autopilot.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateSchema())

	ctx := context.Background()
	_, err = st.AppendAction(ctx, store.ActionScale, "12345", map[string]any{"new_count": 3, "reason": "cpu high"}, store.StatusCompleted)
	require.NoError(t, err)
	_, err = st.AppendAction(ctx, store.ActionRedeploy, "12345", map[string]any{"reason": "stuck"}, store.StatusBlocked)
	require.NoError(t, err)
	require.NoError(t, st.SetCooldown(ctx, store.ActionScale, time.Hour, "12345"))
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "autopilot", RootCmd.Use)
	assert.NotEmpty(t, RootCmd.Short)
	assert.NotEmpty(t, RootCmd.Long)

	registered := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range []string{"run", "status", "actions", "deployments", "policy", "stats", "archive"} {
		assert.True(t, registered[name], "command %q not registered", name)
	}

	for _, name := range []string{"config", "db", "json"} {
		f := RootCmd.PersistentFlags().Lookup(name)
		if assert.NotNil(t, f, "--%s missing", name) {
			assert.NotEmpty(t, f.Usage)
		}
	}
}

func TestRootPrintsHints(t *testing.T) {
	setupHome(t)

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "autopilot run")
}

func TestRunOnceWithMocks(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "run", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Iteration 1")
	assert.Contains(t, out, "Deployments: 1")
	assert.Contains(t, out, "no action")

	out, err = execute(t, "deployments")
	require.NoError(t, err)
	assert.Contains(t, out, "12345")
	assert.Contains(t, out, "test-deployment")

	out, err = execute(t, "deployments", "12345", "--json")
	require.NoError(t, err)
	var dep store.DeploymentSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &dep))
	assert.Equal(t, 1, dep.ReplicaCount)
	assert.Equal(t, store.DeploymentActive, dep.Status)

	_, err = execute(t, "deployments", "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestRunOnceJSON(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "run", "--once", "--json")
	require.NoError(t, err)

	var res scheduler.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.PlanReceived)
	assert.False(t, res.ValidationFailed)
	assert.Equal(t, 1, res.Deployments)
	assert.Empty(t, res.Outcomes)
}

func TestRunModesAreExclusive(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "run", "--once", "--stop")
	assert.Error(t, err)
}

func TestRunStopWhenNotRunning(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "run", "--stop")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is not running")
}

func TestActionsCommand(t *testing.T) {
	home := setupHome(t)
	seedLedger(t, home)

	out, err := execute(t, "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu high")
	assert.Contains(t, out, "blocked")
	assert.Less(t, strings.Index(out, "redeploy"), strings.Index(out, "scale"), "newest first")

	out, err = execute(t, "actions", "--type", "scale", "--json")
	require.NoError(t, err)
	var body struct {
		Total   int                   `json:"total"`
		Actions []*store.ActionRecord `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "cpu high", body.Actions[0].Reason())

	out, err = execute(t, "actions", "--type", "redeploy", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "stuck")
}

func TestActionsCommandRejectsBadFlags(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "actions", "--type", "delete")
	assert.ErrorContains(t, err, "unknown action type")

	_, err = execute(t, "actions", "--since", "1h")
	assert.ErrorContains(t, err, "--since requires --type")

	_, err = execute(t, "actions", "--limit", "0")
	assert.ErrorContains(t, err, "--limit")
}

func TestStatusCommand(t *testing.T) {
	home := setupHome(t)
	seedLedger(t, home)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "APIs:           mock")
	assert.Contains(t, out, "Total actions:        2")
	assert.Contains(t, out, "Last action:    #2 redeploy blocked")

	out, err = execute(t, "status", "--json")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, false, body["daemon_running"])
	assert.NotNil(t, body["last_action"])
}

func TestPolicyCommand(t *testing.T) {
	home := setupHome(t)
	seedLedger(t, home)

	policyFile := filepath.Join(home, "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte("max_replicas: 4\nscale_cooldown_seconds: 600\n"), 0644))
	t.Setenv("POLICY_FILE", policyFile)

	out, err := execute(t, "policy")
	require.NoError(t, err)
	assert.Contains(t, out, "replicas:  0..4")
	assert.Contains(t, out, "scale:     10m0s")
	assert.Contains(t, out, "12345")

	out, err = execute(t, "policy", "--json")
	require.NoError(t, err)
	var body struct {
		Policy struct {
			Constraints struct {
				MaxReplicas int `json:"max_replicas"`
			} `json:"constraints"`
		} `json:"policy"`
		ActiveCooldowns int `json:"active_cooldowns"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 4, body.Policy.Constraints.MaxReplicas)
	assert.Equal(t, 1, body.ActiveCooldowns)
}

func TestStatsCommand(t *testing.T) {
	home := setupHome(t)
	seedLedger(t, home)

	out, err := execute(t, "stats", "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalActions)
	assert.Equal(t, 1, stats.ActionsByStatus["completed"])
	assert.Equal(t, 1, stats.ActiveCooldowns)
}

func TestArchiveRequiresBucket(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "archive")
	assert.ErrorContains(t, err, "no bucket")
}

func TestDBFlagOverridesPath(t *testing.T) {
	setupHome(t)
	custom := filepath.Join(t.TempDir(), "nested", "custom.db")

	_, err := execute(t, "--db", custom, "stats")
	require.NoError(t, err)
	_, err = os.Stat(custom)
	assert.NoError(t, err)
}

func TestRenderResult(t *testing.T) {
	res := &scheduler.Result{
		ID:           "it-1",
		Number:       4,
		Deployments:  2,
		Stale:        true,
		PlanReceived: true,
		Outcomes: []scheduler.Outcome{
			{RecordID: 9, Type: store.ActionScale, DeploymentID: "d1", Status: store.StatusBlocked, Reason: "Action scale is in cooldown period"},
		},
	}

	got := renderResult(res)
	assert.Contains(t, got, "Iteration 4 (it-1)")
	assert.Contains(t, got, "2 (stale snapshots)")
	assert.Contains(t, got, "1 action(s)")
	assert.Contains(t, got, "#9 scale d1: blocked - Action scale is in cooldown period")

	res = &scheduler.Result{ID: "it-2", Number: 5}
	assert.Contains(t, renderResult(res), "recommender unavailable")
}
