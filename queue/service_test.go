package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/pipeline"
	"go_json_columnar_convertor/sink"
	"go_json_columnar_convertor/source"
)

type fakeSQS struct {
	mu       sync.Mutex
	pending  []types.Message
	deleted  []string
	failNext int
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return nil, errors.New("throttled")
	}
	n := len(f.pending)
	if n > int(in.MaxNumberOfMessages) {
		n = int(in.MaxNumberOfMessages)
	}
	msgs := f.pending[:n]
	f.pending = f.pending[n:]
	f.mu.Unlock()

	if len(msgs) > 0 {
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	// Long poll with nothing to deliver.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if aws.ToString(in.QueueName) != "events" {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/events")}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	aborted map[string]error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), aborted: make(map[string]error)}
}

func (m *memStore) abortCause(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted[bucket+"/"+key]
}

func (m *memStore) put(bucket, key string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = b
}

func (m *memStore) get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	return b, ok
}

func (m *memStore) NewReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	b, ok := m.get(bucket, key)
	if !ok {
		return nil, cerrors.New(cerrors.ErrorTypeConnection, "no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) NewWriter(_ context.Context, bucket, key string) (io.WriteCloser, error) {
	return &memWriter{store: m, bucket: bucket, key: key}, nil
}

// memWriter stores the object on Close whatever the state of its context, like an
// upload that already finished reading its body.
type memWriter struct {
	bytes.Buffer
	store       *memStore
	bucket, key string
}

func (w *memWriter) Close() error {
	w.store.put(w.bucket, w.key, w.Bytes())
	return nil
}

func (w *memWriter) CloseWithError(cause error) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.aborted[w.bucket+"/"+w.key] = cause
	return cause
}

type jobCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (j *jobCounter) JobDone(outcome string, _ time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outcomes == nil {
		j.outcomes = make(map[string]int)
	}
	j.outcomes[outcome]++
}

func eventBody(bucket, key string) string {
	return fmt.Sprintf(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":%q},"object":{"key":%q,"size":10}}}]}`, bucket, key)
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := source.Compress(&buf, "x.gz")
	require.NoError(t, err)
	_, err = io.WriteString(w, s)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseEvent(t *testing.T) {
	objs, err := ParseEvent(eventBody("in", "dir/my+file%3A1.json"), "default")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, Object{Bucket: "in", Key: "dir/my file:1.json", Size: 10}, objs[0])

	objs, err = ParseEvent(`{"Records":[{"s3":{"object":{"key":"a.json"}}}]}`, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", objs[0].Bucket)

	objs, err = ParseEvent(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`, "default")
	require.NoError(t, err)
	assert.Empty(t, objs)

	_, err = ParseEvent(`{`, "default")
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeDecode))

	_, err = ParseEvent(`{"Records":[{"s3":{"object":{"key":"%zz"}}}]}`, "default")
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeDecode))
}

func TestOutputKey(t *testing.T) {
	s := &Service{OutputPrefix: "converted/"}
	assert.Equal(t, "converted/a/b.json.parquet", s.OutputKey("a/b.json"))
	assert.Equal(t, "converted/a/b.json.parquet", s.OutputKey("a/b.json.gz"))

	s.Job.Format = sink.FormatArrow
	assert.Equal(t, "converted/a/b.json.arrow", s.OutputKey("a/b.json.zst"))
}

func TestResolveQueueURL(t *testing.T) {
	url, err := ResolveQueueURL(context.Background(), &fakeSQS{}, "events")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/events", url)

	_, err = ResolveQueueURL(context.Background(), &fakeSQS{}, "missing")
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeConnection))
}

func TestServiceValidate(t *testing.T) {
	err := (&Service{}).Run(context.Background())
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeConfig))
}

func TestServiceRun(t *testing.T) {
	store := newMemStore()
	store.put("in", "ok.json", []byte(`{"id":1}`+"\n"+`{"id":2}`+"\n"))
	store.put("in", "ok2.json.gz", gzipped(t, `{"id":3}`))
	store.put("in", "bad.json", []byte(`{"id":"not a number"}`))

	fake := &fakeSQS{
		failNext: 1,
		pending: []types.Message{
			message("1", eventBody("in", "ok.json")),
			message("2", eventBody("in", "ok2.json.gz")),
			message("3", eventBody("in", "bad.json")),
			message("4", eventBody("in", "missing.json")),
			message("5", "not json"),
		},
	}
	jobs := &jobCounter{}
	svc := &Service{
		Pollers:      2,
		Workers:      3,
		QueueURL:     "https://sqs.local/events",
		OutputBucket: "out",
		OutputPrefix: "p/",
		Job:          pipeline.Options{Schema: "struct<id:bigint>"},
		SQS:          fake,
		Store:        store,
		Logger:       zaptest.NewLogger(t),
		Recorder:     jobs,
		RetryDelay:   time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fake.deletedHandles()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	// Let the failing messages finish too.
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return jobs.outcomes["failure"] == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.ElementsMatch(t, []string{"rh-1", "rh-2"}, fake.deletedHandles())
	assert.Equal(t, 2, jobs.outcomes["success"])

	for _, key := range []string{"p/ok.json.parquet", "p/ok2.json.parquet"} {
		b, ok := store.get("out", key)
		require.True(t, ok, key)
		assert.Equal(t, "PAR1", string(b[:4]))
	}
	_, ok := store.get("out", "p/bad.json.parquet")
	assert.False(t, ok, "failed conversions must not leave an output object")
	cause := store.abortCause("out", "p/bad.json.parquet")
	require.Error(t, cause)
	assert.True(t, cerrors.IsType(cause, cerrors.ErrorTypeValue), cause)
}
