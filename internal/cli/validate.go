package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/cacheload/internal/load/tracing"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a test document without sending traffic",
		Long: `Parse and validate a test document the way run would: schema, scenario
settings, workload names and threshold selectors. Nothing is sent to the
item service.

  cacheload validate test.yaml
  cacheload validate --config test.yaml --rate 500`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			if len(args) == 1 {
				v.Set("config", args[0])
			}
			return validateTest(cmd, v)
		},
	}
	addConfigFlags(cmd.Flags())
	return cmd
}

func validateTest(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadTestConfig(v)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, zerolog.Nop(), tracing.Noop())
	if err != nil {
		return err
	}

	source := v.GetString("config")
	if source == "" {
		source = "built-in test"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid: %q with %d scenario(s) and %d threshold(s)\n",
		source, cfg.Name, len(cfg.Scenarios), len(eng.Thresholds()))

	execConfigs, err := cfg.ExecutorConfigs()
	if err != nil {
		return err
	}
	for _, ec := range execConfigs {
		fmt.Fprintf(out, "  %s: %s exec=%s for %s, vus=%d..%d\n",
			ec.Name, ec.Type, ec.Exec, ec.TotalDuration(), ec.PreAllocatedVUs, ec.MaxVUs)
	}
	return nil
}
