package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/cacheload/internal/logging"
)

var version = "0.1.0"

// Process exit statuses.
const (
	ExitOK = 0
	// ExitError covers configuration, I/O and executor errors.
	ExitError = 1
	// ExitThresholdsFailed means the run completed but its verdict failed.
	ExitThresholdsFailed = 99
)

// envPrefix prefixes every environment variable that can stand in for a
// flag: --max-vus is CACHELOAD_MAX_VUS.
const envPrefix = "CACHELOAD"

// exitError carries an exit status out of a command. A nil err prints
// nothing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// NewRootCmd builds the command tree. Each call gets its own viper
// instance so commands can be executed repeatedly in tests.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:     "cacheload",
		Short:   "Open-model load generator for a read-through cached item service",
		Version: version,
		Long: `cacheload drives an item service with arrival-rate scenarios: iterations
start on a fixed or ramping schedule whether or not earlier ones have
finished, so a slow service shows up as latency and dropped iterations
instead of a quietly reduced request rate.

Every flag can also be set through the environment, e.g. CACHELOAD_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", logging.FormatConsole, "log format (console or json)")

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newValidateCmd(v))
	root.AddCommand(newServeCmd(v))
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitError
}

// bindFlags binds the executing command's flags, inherited ones included,
// so viper resolves flag > environment > default.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

func newLogger(v *viper.Viper, w io.Writer) (zerolog.Logger, error) {
	return logging.Setup(logging.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
		Output: w,
	})
}
