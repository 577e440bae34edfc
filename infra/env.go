// Package infra loads configuration and sets up process-wide tracing.
package infra

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/logger"
	"go_json_columnar_convertor/pipeline"
	"go_json_columnar_convertor/sink"
	"go_json_columnar_convertor/source"
	"go_json_columnar_convertor/storage"
)

// EnvPrefix prefixes every environment override, e.g. CONVERTOR_CONVERT_BATCH_SIZE.
const EnvPrefix = "CONVERTOR"

type ConvertConfig struct {
	Schema          string `mapstructure:"schema"`
	Format          string `mapstructure:"format"`
	Compression     string `mapstructure:"compression"`
	BatchSize       int    `mapstructure:"batch_size"`
	TimestampFormat string `mapstructure:"timestamp_format"`
	Timezone        string `mapstructure:"timezone"`
	OnError         string `mapstructure:"on_error"`
}

type SQSConfig struct {
	// Queue is the queue name; QueueURL wins when both are set.
	Queue        string `mapstructure:"queue"`
	QueueURL     string `mapstructure:"queue_url"`
	InputBucket  string `mapstructure:"input_bucket"`
	OutputBucket string `mapstructure:"output_bucket"`
	OutputPrefix string `mapstructure:"output_prefix"`
	Pollers      int    `mapstructure:"pollers"`
	Workers      int    `mapstructure:"workers"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type Config struct {
	Log     logger.Config      `mapstructure:"log"`
	Convert ConvertConfig      `mapstructure:"convert"`
	SQS     SQSConfig          `mapstructure:"sqs"`
	Kafka   source.KafkaConfig `mapstructure:"kafka"`
	Storage storage.Config     `mapstructure:"storage"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
	Tracing TracingConfig      `mapstructure:"tracing"`
}

var defaults = map[string]interface{}{
	"log.level":                "info",
	"log.development":          false,
	"log.encoding":             "json",
	"log.output_paths":         []string{"stderr"},
	"convert.schema":           "",
	"convert.format":           string(sink.FormatParquet),
	"convert.compression":      string(sink.CompressionSnappy),
	"convert.batch_size":       1024,
	"convert.timestamp_format": "",
	"convert.timezone":         "Local",
	"convert.on_error":         string(pipeline.Abort),
	"sqs.queue":                "",
	"sqs.queue_url":            "",
	"sqs.input_bucket":         "",
	"sqs.output_bucket":        "",
	"sqs.output_prefix":        "",
	"sqs.pollers":              1,
	"sqs.workers":              4,
	"kafka.brokers":            []string{},
	"kafka.topics":             []string{},
	"kafka.group_id":           "",
	"kafka.initial_offset":     "newest",
	"kafka.version":            "",
	"storage.region":           "",
	"storage.credentials_file": "",
	"storage.part_size":        5 * 1024 * 1024,
	"storage.concurrency":      4,
	"metrics.addr":             "",
	"tracing.enabled":          false,
	"tracing.service_name":     "go_json_columnar_convertor",
}

// legacyEnv maps keys to the environment variables the SQS service has always read.
var legacyEnv = map[string]string{
	"sqs.queue":        "AWS_SQS",
	"sqs.input_bucket": "AWS_S3",
	"sqs.pollers":      "Poller",
	"sqs.workers":      "Worker",
}

// NewViper returns a viper instance with defaults and environment overrides. Flags bound
// to it before Load take precedence over both.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// The prefixed name is listed first so it wins over the legacy one.
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

// Load reads the optional YAML file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "config file not found").WithDetail("path", path)
			}
			return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "unmarshal config")
	}
	return &cfg, nil
}

// PipelineOptions validates the conversion settings and turns them into pipeline options.
// Logger and Recorder are left for the caller.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	format, err := sink.ParseFormat(c.Convert.Format)
	if err != nil {
		return pipeline.Options{}, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "convert.format")
	}
	compression, err := sink.ParseCompression(c.Convert.Compression)
	if err != nil {
		return pipeline.Options{}, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "convert.compression")
	}
	policy, err := pipeline.ParseErrorPolicy(c.Convert.OnError)
	if err != nil {
		return pipeline.Options{}, err
	}
	loc, err := ParseTimezone(c.Convert.Timezone)
	if err != nil {
		return pipeline.Options{}, err
	}
	if c.Convert.Schema == "" {
		return pipeline.Options{}, cerrors.New(cerrors.ErrorTypeConfig, "convert.schema is required")
	}
	if c.Convert.BatchSize < 1 {
		return pipeline.Options{}, cerrors.Newf(cerrors.ErrorTypeConfig, "convert.batch_size must be positive, got %d", c.Convert.BatchSize)
	}
	return pipeline.Options{
		Schema:          c.Convert.Schema,
		Format:          format,
		Compression:     compression,
		BatchSize:       c.Convert.BatchSize,
		TimestampFormat: c.Convert.TimestampFormat,
		Location:        loc,
		OnError:         policy,
	}, nil
}

// ValidateSQS checks the settings the queue service needs.
func (c *Config) ValidateSQS() error {
	switch {
	case c.SQS.Queue == "" && c.SQS.QueueURL == "":
		return cerrors.New(cerrors.ErrorTypeConfig, "sqs.queue or sqs.queue_url is required")
	case c.SQS.Pollers < 1:
		return cerrors.Newf(cerrors.ErrorTypeConfig, "sqs.pollers must be positive, got %d", c.SQS.Pollers)
	case c.SQS.Workers < 1:
		return cerrors.Newf(cerrors.ErrorTypeConfig, "sqs.workers must be positive, got %d", c.SQS.Workers)
	}
	return nil
}
