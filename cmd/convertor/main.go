package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"go_json_columnar_convertor/infra"
	"go_json_columnar_convertor/logger"
	"go_json_columnar_convertor/metrics"
	"go_json_columnar_convertor/schema"
	"go_json_columnar_convertor/sink"
)

var version = "0.1.0"

// app carries what every command shares once the root pre-run has loaded the config.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg             *infra.Config
	log             *zap.Logger
	metrics         *metrics.Collector
	shutdownTracing func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: infra.NewViper()}

	root := &cobra.Command{
		Use:   "convertor",
		Short: "Convert newline-delimited JSON into Parquet or Arrow files",
		Long: `convertor decodes JSON records against a schema description such as
struct<id:bigint,tags:list<string>> and writes them in batches as a columnar file.
Records come from files, object storage, S3 event notifications on SQS or Kafka.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	pf.Bool("tracing", false, "export OpenTelemetry spans to stderr")

	pf.String("schema", "", "schema description of every record")
	pf.String("format", string(sink.FormatParquet), fmt.Sprintf("output format %v", sink.Formats()))
	pf.String("compression", string(sink.CompressionSnappy), "page compression: snappy, gzip, zstd or none")
	pf.Int("batch-size", 1024, "rows per batch")
	pf.String("timestamp-format", "", "Go reference layout for timestamps; empty recognises common formats")
	pf.String("timezone", "Local", "zone for timestamps without offset; Local is the process zone")
	pf.String("on-error", "abort", "bad records: abort or skip")

	bindFlags(a.v, root, map[string]string{
		"log-level":        "log.level",
		"metrics-addr":     "metrics.addr",
		"tracing":          "tracing.enabled",
		"schema":           "convert.schema",
		"format":           "convert.format",
		"compression":      "convert.compression",
		"batch-size":       "convert.batch_size",
		"timestamp-format": "convert.timestamp_format",
		"timezone":         "convert.timezone",
		"on-error":         "convert.on_error",
	})

	root.AddCommand(
		a.convertCmd(),
		a.sqsCmd(),
		a.kafkaCmd(),
		schemaCmd(),
		versionCmd(),
	)
	return root
}

// bindFlags binds flags of cmd, persistent or local, to config keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if f == nil {
			panic("unknown flag " + name)
		}
		_ = v.BindPFlag(key, f)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := infra.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	a.log = logger.Get()
	a.metrics = metrics.NewCollector()

	shutdown, err := infra.InitTracing(cfg.Tracing, os.Stderr)
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(cmd.Context(), cfg.Metrics.Addr, a.log); err != nil {
				a.log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = logger.Sync()
	return nil
}

func schemaCmd() *cobra.Command {
	var parquetDef bool
	cmd := &cobra.Command{
		Use:   "schema <description>",
		Short: "Validate a schema description and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := schema.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, root.String())
			if parquetDef {
				def, err := sink.MessageDefinition(root)
				if err != nil {
					return err
				}
				fmt.Fprint(out, def)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parquetDef, "parquet", false, "also print the Parquet message definition")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "convertor v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
