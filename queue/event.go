package queue

import (
	"net/url"

	gojson "github.com/goccy/go-json"

	cerrors "go_json_columnar_convertor/errors"
)

// Event is the body of an S3 event notification delivered through SQS.
type Event struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"` // Filename with complete path, URL-escaped
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Object is one uploaded object named by an event.
type Object struct {
	Bucket string
	Key    string
	Size   int64
}

// ParseEvent decodes an event body and unescapes the object keys. Records without a bucket
// name get defaultBucket. Bodies without records, like the s3:TestEvent sent when a
// notification is configured, yield no objects.
func ParseEvent(body string, defaultBucket string) ([]Object, error) {
	var ev Event
	if err := gojson.Unmarshal([]byte(body), &ev); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeDecode, "malformed event body")
	}

	objects := make([]Object, 0, len(ev.Records))
	for _, r := range ev.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, cerrors.Wrap(err, cerrors.ErrorTypeDecode, "malformed object key").
				WithDetail("key", r.S3.Object.Key)
		}
		if key == "" {
			return nil, cerrors.New(cerrors.ErrorTypeDecode, "event record without object key")
		}
		bucket := r.S3.Bucket.Name
		if bucket == "" {
			bucket = defaultBucket
		}
		objects = append(objects, Object{Bucket: bucket, Key: key, Size: r.S3.Object.Size})
	}
	return objects, nil
}
