package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
	"github.com/mrz1836/herald/internal/service/transaction"
	"github.com/mrz1836/herald/internal/version"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

func TestRunNetworksList(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, output.FormatJSON)
	require.NoError(t, runNetworksList(e.command(""), nil))

	var list []networkView
	require.NoError(t, json.Unmarshal(e.stdout.Bytes(), &list))
	require.Len(t, list, len(e.cc.Cfg.Networks))

	byID := make(map[string]networkView, len(list))
	for _, n := range list {
		byID[n.ID] = n
	}
	assert.Equal(t, int64(11155111), byID["sepolia"].EVMChainID)
	assert.Equal(t, "extrinsic", byID["polkadot"].Type)

	var buf bytes.Buffer
	require.NoError(t, networkList(list).RenderText(&buf))
	assert.Contains(t, buf.String(), "westend")
	assert.Contains(t, buf.String(), "DECIMALS")

	buf.Reset()
	require.NoError(t, networkList(nil).RenderText(&buf))
	assert.Equal(t, "No networks configured.\n", buf.String())
}

func TestRunVersion(t *testing.T) {
	promptMu.Lock()
	defer promptMu.Unlock()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9","html_url":"https://github.com/mrz1836/herald/releases/tag/v9.9.9"}`))
	}))
	defer server.Close()

	orig := newVersionClient
	newVersionClient = func() *version.Client { return version.NewClient(version.WithBaseURL(server.URL)) }
	defer func() { newVersionClient = orig; versionCheck = false }()

	e := newTestEnv(t, output.FormatText)
	require.NoError(t, runVersion(e.command(""), nil))
	assert.Contains(t, e.stdout.String(), "herald "+version.Current().String())
	assert.NotContains(t, e.stdout.String(), "newer release")

	e.stdout.Reset()
	versionCheck = true
	require.NoError(t, runVersion(e.command(""), nil))
	assert.Contains(t, e.stdout.String(), "A newer release is available: v9.9.9")

	jsonEnv := newTestEnv(t, output.FormatJSON)
	require.NoError(t, runVersion(jsonEnv.command(""), nil))
	var view struct {
		Version string         `json:"version"`
		Update  *version.Check `json:"update"`
	}
	require.NoError(t, json.Unmarshal(jsonEnv.stdout.Bytes(), &view))
	assert.Equal(t, version.Version, view.Version)
	require.NotNil(t, view.Update)
	assert.True(t, view.Update.IsNewer)

	newVersionClient = func() *version.Client { return version.NewClient(version.WithBaseURL("http://127.0.0.1:0")) }
	err := runVersion(e.command(""), nil)
	require.ErrorIs(t, err, heralderr.ErrGeneral)
}

func TestRunConfigInitAndShow(t *testing.T) {
	promptMu.Lock()
	defer promptMu.Unlock()
	defer func() { configForce = false }()

	e := newTestEnv(t, output.FormatJSON)
	path := config.Path(e.cc.Cfg.Home)

	require.NoError(t, runConfigInit(e.command(""), nil))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Networks, len(config.DefaultNetworks()))
	assert.Equal(t, e.cc.Cfg.Home, loaded.Home)

	err = runConfigInit(e.command(""), nil)
	require.ErrorIs(t, err, heralderr.ErrInvalidInput)

	configForce = true
	require.NoError(t, runConfigInit(e.command(""), nil))

	text := newTestEnv(t, output.FormatText)
	require.NoError(t, runConfigShow(text.command(""), nil))
	assert.Contains(t, text.stdout.String(), "networks:")
	assert.Contains(t, text.stdout.String(), "id: westend")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", heralderr.WithDetail(heralderr.ErrNotFound, "tx"), heralderr.ExitNotFound},
		{"invalid input", heralderr.ErrInvalidInput, heralderr.ExitInput},
		{"plain error", errors.New("boom"), heralderr.ExitGeneral},
		{
			"validation error",
			&transaction.ValidationError{Errors: []error{heralderr.ErrNotEnoughBalance}},
			(&transaction.ValidationError{Errors: []error{heralderr.ErrNotEnoughBalance}}).ExitCode(),
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), tt.name)
	}
}

func TestInitGlobals(t *testing.T) {
	promptMu.Lock()
	defer promptMu.Unlock()

	home := t.TempDir()
	t.Setenv(config.EnvHome, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvOutputFormat, "")
	t.Setenv(config.EnvMetricsAddr, "")
	t.Setenv(config.RPCEnvName("westend"), "wss://westend.example.com")

	homeDir, outputFormat, verbose, metricsAddr = home, "json", true, ":9464"
	defer func() {
		homeDir, outputFormat, verbose, metricsAddr = "", "auto", false, ""
		cleanup()
		cfg, logger, formatter = nil, nil, nil
	}()

	require.NoError(t, initGlobals())
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, "json", cfg.Output.DefaultFormat)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, output.FormatJSON, formatter.Format())
	assert.Equal(t, filepath.Join(home, "herald.log"), logger.Path())

	westend, ok := cfg.Network("westend")
	require.True(t, ok)
	assert.Equal(t, "wss://westend.example.com", westend.RPC)

	cc := GetCmdContext(&cobra.Command{})
	assert.Same(t, cfg, cc.Cfg)

	require.NoError(t, os.WriteFile(config.Path(home), []byte("networks: [{id: x, type: utxo}]\n"), 0o600))
	require.ErrorIs(t, initGlobals(), heralderr.ErrConfigInvalid)
}

func TestListCommands(t *testing.T) {
	t.Parallel()

	noop := func(*cobra.Command, []string) {}
	root := &cobra.Command{Use: "herald", Long: "Root."}
	keys := &cobra.Command{Use: "keys", Long: "Manage accounts."}
	keys.AddCommand(
		&cobra.Command{Use: "import", Short: "Import an account", Run: noop},
		&cobra.Command{Use: "secret", Short: "Hidden", Hidden: true, Run: noop},
	)
	root.AddCommand(keys, &cobra.Command{Use: "version", Short: "Print the version", Run: noop})
	leaf := &cobra.Command{Use: "leaf", Long: "Leaf.", Run: noop}

	listCommands(root)
	listCommands(leaf)

	assert.Contains(t, root.Long, "Root.\n\nCommands:\n")
	assert.Contains(t, root.Long, "keys import")
	assert.Contains(t, root.Long, "Import an account")
	assert.Contains(t, root.Long, "version")
	assert.NotContains(t, root.Long, "secret")

	assert.Contains(t, keys.Long, "  import ")
	assert.NotContains(t, keys.Long, "keys import")
	assert.Equal(t, "Leaf.", leaf.Long)
}

func TestRequestContext(t *testing.T) {
	t.Parallel()

	bare := &cobra.Command{Use: "bare"}
	ctx, cancel := requestContext(bare, time.Minute)
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	cancel()
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	parent, stop := context.WithCancel(context.Background())
	bound := &cobra.Command{Use: "bound"}
	bound.SetContext(parent)
	ctx, cancel = requestContext(bound, 0)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok, "no limit means no deadline")
	stop()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
