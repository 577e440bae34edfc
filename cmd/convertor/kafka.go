package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/infra"
	"go_json_columnar_convertor/logger"
	"go_json_columnar_convertor/pipeline"
	"go_json_columnar_convertor/source"
	"go_json_columnar_convertor/storage"
)

func (a *app) kafkaCmd() *cobra.Command {
	var output string
	var maxRecords int
	cmd := &cobra.Command{
		Use:   "kafka",
		Short: "Convert Kafka messages into one columnar file",
		Long: `kafka consumes JSON message values from the configured topics and writes them into
one output file. The file is finished when the command is interrupted or --max-records
messages were read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runKafka(cmd.Context(), output, maxRecords)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output location (required)")
	f.IntVar(&maxRecords, "max-records", 0, "stop after this many messages; 0 runs until interrupted")
	f.StringSlice("brokers", nil, "Kafka brokers")
	f.StringSlice("topics", nil, "topics to consume")
	f.String("group-id", "", "consumer group")
	f.String("initial-offset", "newest", "oldest or newest")
	_ = cmd.MarkFlagRequired("output")

	bindFlags(a.v, cmd, map[string]string{
		"brokers":        "kafka.brokers",
		"topics":         "kafka.topics",
		"group-id":       "kafka.group_id",
		"initial-offset": "kafka.initial_offset",
	})
	return cmd
}

func (a *app) runKafka(ctx context.Context, output string, maxRecords int) error {
	opts, err := a.cfg.PipelineOptions()
	if err != nil {
		return err
	}
	log := logger.With(zap.String("output", output))
	opts.Logger = log
	opts.Recorder = a.metrics

	ctx, span := infra.Tracer("go_json_columnar_convertor/cmd").Start(ctx, "kafka.consume")
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := storage.NewResolver(a.cfg.Storage)
	defer res.Close()
	wc, err := res.Create(ctx, output)
	if err != nil {
		return err
	}
	conv, err := pipeline.Open(wc, opts)
	if err != nil {
		_ = wc.Close()
		return err
	}

	consumer, err := source.NewKafka(a.cfg.Kafka, log, func(n int, record []byte) error {
		if err := conv.WriteJSON(record); err != nil {
			if opts.OnError != pipeline.Skip ||
				!(cerrors.IsType(err, cerrors.ErrorTypeDecode) || cerrors.IsType(err, cerrors.ErrorTypeValue)) {
				return err
			}
			log.Warn("skipped record", zap.Int("message", n), zap.Error(err))
		}
		if maxRecords > 0 && n >= maxRecords {
			cancel()
		}
		return nil
	})
	if err != nil {
		_ = conv.Close()
		_ = wc.Close()
		return err
	}

	runErr := consumer.Run(ctx)
	closeErr := conv.Close()
	if err := wc.Close(); closeErr == nil {
		closeErr = err
	}
	log.Info("kafka conversion finished",
		zap.Int("messages", consumer.Records()),
		zap.Int64("rows", conv.RowsWritten()))
	if runErr != nil {
		return runErr
	}
	return closeErr
}
