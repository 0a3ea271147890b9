package cmdmain

import (
	"bytes"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCmd struct{}

func (nopCmd) Help() string { return "does nothing" }
func (nopCmd) Exec(cmd string, args []string) error { return nil }

func restoreDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestGlobalFlagsFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnv, "debug")
	t.Setenv(LogFormatEnv, "json")

	var g globalFlags
	fs := flag.NewFlagSet("camrelay", flag.ContinueOnError)
	g.register(fs)
	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, "debug", g.logLevel)
	assert.Equal(t, "json", g.logFormat)

	require.NoError(t, fs.Parse([]string{"-log-level", "warn"}))
	assert.Equal(t, "warn", g.logLevel)
}

func TestSetupLoggingWritesLogFile(t *testing.T) {
	restoreDefaultLogger(t)
	path := filepath.Join(t.TempDir(), "camrelay.log")
	g := globalFlags{logFile: path, logFormat: "json", logLevel: "warn"}

	closeLog, err := g.setupLogging()
	require.NoError(t, err)
	slog.Info("hidden")
	slog.Warn("visible", "mount", "cam")
	closeLog()

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(buf), "hidden")
	assert.Contains(t, string(buf), `"msg":"visible"`)
	assert.Contains(t, string(buf), `"mount":"cam"`)
}

func TestSetupLoggingRejectsInvalidFlags(t *testing.T) {
	restoreDefaultLogger(t)
	_, err := (&globalFlags{logFormat: "xml", logLevel: "info"}).setupLogging()
	assert.Error(t, err)
	_, err = (&globalFlags{logFormat: "text", logLevel: "loud"}).setupLogging()
	assert.Error(t, err)
}

func TestUsageListsCommands(t *testing.T) {
	RegisterSubCmd("nop-usage", func() SubCmd { return nopCmd{} })
	t.Cleanup(func() { delete(subCmds, "nop-usage") })

	cmd, ok := Lookup("nop-usage")
	require.True(t, ok)
	assert.Equal(t, "does nothing", cmd.Help())
	_, ok = Lookup("missing")
	assert.False(t, ok)

	var g globalFlags
	fs := flag.NewFlagSet("camrelay", flag.ContinueOnError)
	var out bytes.Buffer
	fs.SetOutput(&out)
	g.register(fs)
	usage("camrelay", fs)()

	assert.Contains(t, out.String(), "nop-usage does nothing")
	assert.Contains(t, out.String(), "-log-level")
	assert.Contains(t, out.String(), "camrelay serve -config")
}
