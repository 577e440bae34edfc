// Package queue converts objects announced by S3 event notifications on an SQS queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/pipeline"
	"go_json_columnar_convertor/source"
	"go_json_columnar_convertor/storage"
)

const (
	// https://docs.aws.amazon.com/AWSSimpleQueueService/latest/SQSDeveloperGuide/sqs-visibility-timeout.html
	visibilityTimeout int32 = 30
	// https://docs.aws.amazon.com/AWSSimpleQueueService/latest/SQSDeveloperGuide/sqs-short-and-long-polling.html
	waitTimeSeconds int32 = 10 // Long polling
	// Receive message in batch upto 10 (maximum limit)
	maxNumberOfMessages int32 = 10

	defaultRetryDelay = 10 * time.Second
)

// SQSAPI is the part of the SQS client used by Service.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueueURLAPI resolves queue names.
type QueueURLAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// ResolveQueueURL returns the URL of the queue called name.
func ResolveQueueURL(ctx context.Context, api QueueURLAPI, name string) (string, error) {
	out, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to get SQS queue URL").
			WithDetail("queue", name)
	}
	return aws.ToString(out.QueueUrl), nil
}

// JobRecorder receives the outcome of every converted object. metrics.Collector
// implements it.
type JobRecorder interface {
	JobDone(outcome string, d time.Duration)
}

// Service long-polls an SQS queue with Pollers goroutines and converts every announced
// object on Workers goroutines. A message is deleted only after all its objects were
// converted and uploaded; otherwise it becomes visible again and is retried.
type Service struct {
	Pollers  int
	Workers  int
	QueueURL string
	// InputBucket is used for event records that carry no bucket name.
	InputBucket string
	// OutputBucket defaults to the bucket of the input object.
	OutputBucket string
	OutputPrefix string
	Job          pipeline.Options

	SQS      SQSAPI
	Store    storage.ObjectStore
	Logger   *zap.Logger
	Recorder JobRecorder
	// RetryDelay is the pause after a failed receive. Defaults to 10s.
	RetryDelay time.Duration
}

func (s *Service) validate() error {
	switch {
	case s.Pollers < 1:
		return cerrors.New(cerrors.ErrorTypeConfig, "at least one poller is required")
	case s.Workers < 1:
		return cerrors.New(cerrors.ErrorTypeConfig, "at least one worker is required")
	case s.QueueURL == "":
		return cerrors.New(cerrors.ErrorTypeConfig, "queue URL is required")
	case s.SQS == nil || s.Store == nil:
		return cerrors.New(cerrors.ErrorTypeConfig, "SQS client and object store are required")
	}
	return nil
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// OutputKey names the converted object: the prefix, the input key without compression
// extension and the extension of the output format.
func (s *Service) OutputKey(key string) string {
	return s.OutputPrefix + source.TrimCodecExt(key) + s.Job.Format.Extension()
}

// Run polls until ctx is done, then waits for pollers and workers to return.
func (s *Service) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	work := make(chan types.Message, s.Workers)
	var pollerwg, workerwg sync.WaitGroup

	// Workers for processing SQS messages
	for w := 0; w < s.Workers; w++ {
		workerwg.Add(1)
		go func(id int) {
			defer workerwg.Done()
			s.worker(ctx, id, work)
		}(w)
	}

	// Pollers polling for SQS messages
	for p := 0; p < s.Pollers; p++ {
		pollerwg.Add(1)
		go func() {
			defer pollerwg.Done()
			s.poller(ctx, work)
		}()
	}

	s.log().Info("queue service started",
		zap.String("queue", s.QueueURL),
		zap.Int("pollers", s.Pollers),
		zap.Int("workers", s.Workers))

	pollerwg.Wait()
	close(work)
	workerwg.Wait()

	s.log().Info("queue service stopped")
	return nil
}

// poller receives messages and hands them to the workers until ctx is done.
func (s *Service) poller(ctx context.Context, work chan<- types.Message) {
	delay := s.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	for ctx.Err() == nil {
		output, err := s.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(s.QueueURL),
			MessageAttributeNames: []string{"All"},
			MaxNumberOfMessages:   maxNumberOfMessages,
			VisibilityTimeout:     visibilityTimeout,
			WaitTimeSeconds:       waitTimeSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log().Error("failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		for _, m := range output.Messages {
			select {
			case work <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, id int, work <-chan types.Message) {
	log := s.log().With(zap.Int("worker", id))
	for m := range work {
		if err := s.handle(ctx, m); err != nil {
			log.Error("message failed, leaving it on the queue",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err))
		}
	}
}

// handle converts every object of a message and deletes the message on success.
func (s *Service) handle(ctx context.Context, m types.Message) error {
	ctx, span := otel.Tracer("go_json_columnar_convertor/queue").Start(ctx, "queue.message")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.message.id", aws.ToString(m.MessageId)))

	err := s.process(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message failed")
	}
	return err
}

func (s *Service) process(ctx context.Context, m types.Message) error {
	objects, err := ParseEvent(aws.ToString(m.Body), s.InputBucket)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.convertObject(ctx, obj); err != nil {
			return err
		}
	}

	// delete the message from queue after every object was converted
	_, err = s.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to delete message")
	}
	return nil
}

func (s *Service) convertObject(ctx context.Context, obj Object) (err error) {
	start := time.Now()
	outBucket := s.OutputBucket
	if outBucket == "" {
		outBucket = obj.Bucket
	}
	outKey := s.OutputKey(obj.Key)
	log := s.log().With(
		zap.String("bucket", obj.Bucket),
		zap.String("key", obj.Key),
		zap.String("output", outBucket+"/"+outKey))

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		if s.Recorder != nil {
			s.Recorder.JobDone(outcome, time.Since(start))
		}
	}()

	rc, err := s.Store.NewReader(ctx, obj.Bucket, obj.Key)
	if err != nil {
		return err
	}
	defer rc.Close()

	in, err := source.Decompress(rc, obj.Key)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeDecode, "failed to decompress object").
			WithDetail("key", obj.Key)
	}
	defer in.Close()

	// Cancelling wctx before Close abandons the upload.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.Store.NewWriter(wctx, outBucket, outKey)
	if err != nil {
		return err
	}

	job := s.Job
	job.Logger = log
	stats, err := pipeline.Convert(ctx, in, w, job)
	if err != nil {
		cancel()
		_ = storage.Abort(w, err)
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	log.Info("object converted",
		zap.Int64("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", time.Since(start)))
	return nil
}
