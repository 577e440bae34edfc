package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go_json_columnar_convertor/logger"
	"go_json_columnar_convertor/pipeline"
	"go_json_columnar_convertor/source"
	"go_json_columnar_convertor/storage"
)

func (a *app) convertCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert one newline-delimited JSON input into a columnar file",
		Example: `  convertor convert --schema 'struct<id:bigint,name:string>' --input events.json.gz --output events.parquet
  cat events.json | convertor convert --schema 'struct<id:bigint>' --format arrow > events.arrow
  convertor convert --schema 'struct<id:bigint>' --input s3://raw/e.json --output gs://lake/e.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.convert(cmd, input, output)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "input location: -, a path, s3://bucket/key or gs://bucket/key")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output location")
	return cmd
}

func (a *app) convert(cmd *cobra.Command, input, output string) (err error) {
	ctx := cmd.Context()
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		a.metrics.JobDone(outcome, time.Since(start))
	}()

	opts, err := a.cfg.PipelineOptions()
	if err != nil {
		return err
	}
	ctx = context.WithValue(ctx, logger.JobKey, input)
	opts.Logger = logger.WithContext(ctx).With(zap.String("output", output))
	opts.Recorder = a.metrics

	res := storage.NewResolver(a.cfg.Storage)
	defer res.Close()

	rc, err := res.Open(ctx, input)
	if err != nil {
		return err
	}
	defer rc.Close()

	in, err := source.Decompress(rc, input)
	if err != nil {
		return err
	}
	defer in.Close()

	wc, err := res.Create(ctx, output)
	if err != nil {
		return err
	}
	_, err = pipeline.Convert(ctx, in, wc, opts)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	return err
}
