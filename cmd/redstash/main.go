// Command redstash operates a shared Redis-coordinated file cache from
// the shell: single-shot put/get/exists, coordinator statistics, and a
// multi-worker workload driver for soak testing a deployment.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/redstash/redstash"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "redstash:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "redstash",
		Short:         "Cluster-wide on-disk file cache coordinated through Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("cache-dir", "/tmp/redstash", "shared cache directory")
	pf.String("redis-addr", redstash.DefaultRedisAddr, "coordinator address (host:port)")
	pf.Int("redis-db", 0, "coordinator logical database")
	pf.String("namespace", redstash.DefaultNamespace, "coordinator key prefix")
	pf.Int64("max-bytes", 0, "capacity in bytes; 0 disables eviction")
	pf.Duration("lock-ttl", redstash.DefaultLockTTL, "read/write lease lifetime bound")
	pf.Bool("verbose", false, "debug logging to stderr")

	viper.SetEnvPrefix("REDSTASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindPFlags(pf))

	root.AddCommand(newPutCmd(), newGetCmd(), newExistsCmd(), newStatsCmd(), newHammerCmd())
	return root
}

// openCache builds a handle from the persistent flags / environment.
func openCache(ctx context.Context) (*redstash.Cache, error) {
	opts := []redstash.Option{
		redstash.WithRedisAddr(viper.GetString("redis-addr")),
		redstash.WithRedisDB(viper.GetInt("redis-db")),
		redstash.WithNamespace(viper.GetString("namespace")),
		redstash.WithLockTTL(viper.GetDuration("lock-ttl")),
		redstash.WithMaxBytes(viper.GetInt64("max-bytes")),
		redstash.WithLogger(newLogger()),
	}
	return redstash.New(ctx, viper.GetString("cache-dir"), opts...)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newPutCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "put <key>",
		Short: "Publish a value under a key (create-only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(fromFile)
			if err != nil {
				return err
			}
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Create(ctx, args[0], data)
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read the value from a file instead of stdin")
	return cmd
}

func newGetCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var data []byte
			if wait > 0 {
				var ok bool
				data, ok, err = c.ReadBlocking(ctx, args[0], wait, 0)
				if err == nil && !ok {
					return fmt.Errorf("timed out after %s waiting for %q", wait, args[0])
				}
			} else {
				data, err = c.Read(ctx, args[0])
			}
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "block up to this long for a busy or not-yet-published key")
	return cmd
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Exit 0 if the key is published, 1 otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ok, err := c.Exists(args[0])
			if err != nil {
				return err
			}
			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}
}

func readInput(fromFile string) ([]byte, error) {
	if fromFile != "" {
		return os.ReadFile(fromFile)
	}
	return readAllStdin()
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("no value on stdin; pipe data or pass --file")
	}
	return io.ReadAll(os.Stdin)
}
