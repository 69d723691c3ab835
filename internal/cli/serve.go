package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/cacheload/internal/itemstore"
	"github.com/wesleyorama2/cacheload/internal/load/config"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference item service",
		Long: `Serve the reference item service: an in-memory item table behind a
read-through cache, with the routes the workloads call.

  cacheload serve --addr :8080 --seed 1000 --latency 5ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			log, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			srv := itemstore.NewServer(itemstore.ServerConfig{
				CacheTTL:        v.GetDuration("cache-ttl"),
				UpstreamLatency: v.GetDuration("latency"),
				Seed:            v.GetInt("seed"),
				Logger:          log,
			})
			return srv.ListenAndServe(cmd.Context(), v.GetString("addr"))
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Int("seed", config.DefaultMaxItemID, "number of items created at startup (ids 1..seed)")
	f.Duration("cache-ttl", itemstore.DefaultCacheTTL, "lifetime of a cache entry")
	f.Duration("latency", 0, "delay added to every database read and write")
	return cmd
}
