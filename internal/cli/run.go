package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/cacheload/internal/itemstore"
	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/config"
	"github.com/wesleyorama2/cacheload/internal/load/engine"
	"github.com/wesleyorama2/cacheload/internal/load/exporter"
	"github.com/wesleyorama2/cacheload/internal/load/output"
	"github.com/wesleyorama2/cacheload/internal/load/report"
	"github.com/wesleyorama2/cacheload/internal/load/tracing"
)

// Summary formats for --output.
const (
	outputText = "text"
	outputJSON = "json"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the item service",
		Long: `Run the scenarios of a test document against the item service and
evaluate its thresholds.

Without --config the built-in item cache test runs: a read-heavy and a
write-heavy constant-arrival-rate scenario.

  cacheload run --url http://localhost:8080
  cacheload run --config test.yaml --rate 200 --duration 30s
  cacheload run -c test.yaml --output json > result.json

Exit status is 0 when every threshold passed, 99 when the run completed
with failed thresholds and 1 on any other error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			return runTest(cmd, v)
		},
	}

	f := cmd.Flags()
	addConfigFlags(f)
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while the test runs (e.g. :9464)")
	f.String("otlp-endpoint", "", "export iteration and request spans to this OTLP endpoint")
	f.String("otlp-protocol", "grpc", "OTLP protocol (grpc or http)")
	f.Bool("otlp-insecure", false, "disable TLS for the OTLP exporter")
	f.Float64("otlp-sample-rate", 0, "fraction of iterations traced, in (0, 1]; 0 traces all")
	f.String("json", "", "write the JSON result to this file")
	f.String("html", "", "write the HTML report to this file")
	f.StringP("output", "o", outputText, "summary on stdout: text or json")
	f.BoolP("quiet", "q", false, "print only the verdict")
	f.Bool("no-color", false, "disable colored output")
	return cmd
}

// addConfigFlags registers the test document flag and the document
// overrides shared by run and validate.
func addConfigFlags(f *pflag.FlagSet) {
	f.StringP("config", "c", "", "test document (YAML or JSON); the built-in item cache test when empty")
	f.String("url", "", "item service base URL (overrides settings.baseUrl)")
	f.Float64("rate", 0, "iterations per time unit for constant-arrival-rate scenarios")
	f.String("duration", "", "duration of constant-arrival-rate scenarios (e.g. 30s)")
	f.Int("pre-allocated-vus", 0, "VUs created before each scenario starts")
	f.Int("max-vus", 0, "VU cap of each scenario")
}

// loadTestConfig loads the document named by --config, or the built-in
// test, and applies the flag overrides.
func loadTestConfig(v *viper.Viper) (*config.TestConfig, error) {
	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		BaseURL:         v.GetString("url"),
		Rate:            v.GetFloat64("rate"),
		Duration:        v.GetString("duration"),
		PreAllocatedVUs: v.GetInt("pre-allocated-vus"),
		MaxVUs:          v.GetInt("max-vus"),
	})
	return cfg, nil
}

// buildEngine validates cfg, registers the item-store workloads against a
// client for cfg.Settings and creates the engine.
func buildEngine(cfg *config.TestConfig, log zerolog.Logger, tracer trace.Tracer) (*engine.Engine, error) {
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}

	maxVUs := 0
	for _, sc := range cfg.Scenarios {
		maxVUs += max(sc.MaxVUs, sc.PreAllocatedVUs)
	}
	client := itemstore.NewClient(itemstore.ClientConfig{
		BaseURL:      cfg.Settings.BaseURL,
		Timeout:      cfg.Settings.Timeout.GetDuration(config.DefaultTimeout),
		UserAgent:    cfg.Settings.UserAgent,
		MaxIdleConns: maxVUs,
		Tracer:       tracer,
	})

	catalog := load.NewCatalog()
	if err := itemstore.Register(catalog, client, int64(cfg.Settings.MaxItemID)); err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, err)
	}
	return engine.New(cfg, catalog, engine.WithLogger(log), engine.WithTracer(tracer))
}

func runTest(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	format := v.GetString("output")
	if format != outputText && format != outputJSON {
		return fmt.Errorf("invalid --output %q (expected %s or %s)", format, outputText, outputJSON)
	}

	log, err := newLogger(v, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadTestConfig(v)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, tracing.Config{
		Endpoint:   v.GetString("otlp-endpoint"),
		Protocol:   v.GetString("otlp-protocol"),
		Insecure:   v.GetBool("otlp-insecure"),
		SampleRate: v.GetFloat64("otlp-sample-rate"),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush spans")
		}
	}()

	eng, err := buildEngine(cfg, log, tp.Tracer())
	if err != nil {
		return err
	}

	// With a JSON summary on stdout, the console goes to stderr.
	consoleOut := stdout
	if format == outputJSON {
		consoleOut = stderr
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color"),
	})

	if addr := v.GetString("metrics-addr"); addr != "" {
		srv, err := exporter.NewServer(eng, log)
		if err != nil {
			return err
		}
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := srv.ListenAndServe(metricsCtx, addr); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
			}
		}()
	}

	execConfigs, err := cfg.ExecutorConfigs()
	if err != nil {
		return err
	}
	console.PrintHeader(cfg.Name, execConfigs)

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng, time.Second)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()
	if result == nil {
		return runErr
	}

	console.PrintSummary(result)
	if err := writeReports(v, result, stdout, format); err != nil {
		return err
	}

	if !result.Passed() {
		return &exitError{code: ExitThresholdsFailed, err: runErr}
	}
	return runErr
}

func writeReports(v *viper.Viper, result *engine.TestResult, stdout io.Writer, format string) error {
	if format == outputJSON {
		if err := report.WriteJSON(stdout, result); err != nil {
			return err
		}
	}
	if path := v.GetString("json"); path != "" {
		if err := report.SaveJSON(result, path); err != nil {
			return err
		}
	}
	if path := v.GetString("html"); path != "" {
		if err := report.GenerateHTML(result, path); err != nil {
			return err
		}
	}
	return nil
}
