package main

import (
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/queue"
	"go_json_columnar_convertor/storage"
)

func (a *app) sqsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sqs",
		Short: "Convert objects announced by S3 event notifications on an SQS queue",
		Long: `sqs long-polls the queue, converts every object named in an S3 event notification
and uploads <output-prefix><key><ext> to the output bucket. A message is deleted only after
all its objects were converted. The legacy variables AWS_SQS, AWS_S3, Poller and Worker are
still honoured.`,
		Args: cobra.NoArgs,
		RunE: a.runSQS,
	}
	f := cmd.Flags()
	f.String("queue", "", "queue name")
	f.String("queue-url", "", "queue URL, instead of --queue")
	f.String("input-bucket", "", "bucket for event records without a bucket name")
	f.String("output-bucket", "", "bucket for converted objects; defaults to the input bucket")
	f.String("output-prefix", "", "key prefix for converted objects")
	f.Int("pollers", 1, "number of polling goroutines")
	f.Int("workers", 4, "number of converting goroutines")
	f.String("region", "", "AWS region")

	bindFlags(a.v, cmd, map[string]string{
		"queue":         "sqs.queue",
		"queue-url":     "sqs.queue_url",
		"input-bucket":  "sqs.input_bucket",
		"output-bucket": "sqs.output_bucket",
		"output-prefix": "sqs.output_prefix",
		"pollers":       "sqs.pollers",
		"workers":       "sqs.workers",
		"region":        "storage.region",
	})
	return cmd
}

func (a *app) runSQS(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := a.cfg.ValidateSQS(); err != nil {
		return err
	}
	job, err := a.cfg.PipelineOptions()
	if err != nil {
		return err
	}
	job.Recorder = a.metrics

	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.Storage.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.Storage.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := sqs.NewFromConfig(awsCfg)
	queueURL := a.cfg.SQS.QueueURL
	if queueURL == "" {
		queueURL, err = queue.ResolveQueueURL(ctx, client, a.cfg.SQS.Queue)
		if err != nil {
			return err
		}
	}

	svc := &queue.Service{
		Pollers:      a.cfg.SQS.Pollers,
		Workers:      a.cfg.SQS.Workers,
		QueueURL:     queueURL,
		InputBucket:  a.cfg.SQS.InputBucket,
		OutputBucket: a.cfg.SQS.OutputBucket,
		OutputPrefix: a.cfg.SQS.OutputPrefix,
		Job:          job,
		SQS:          client,
		Store:        storage.NewS3FromClient(s3.NewFromConfig(awsCfg), a.cfg.Storage),
		Logger:       a.log,
		Recorder:     a.metrics,
	}
	return svc.Run(ctx)
}
