package kafka

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Dead-letter reasons shared by consumers and publishers.
const (
	ReasonDecode           = "decode"
	ReasonValidate         = "validate"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonPublishFailed    = "publish_failed"
)

const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DLQError marks a failure as permanent: the message is dead-lettered
// without further retries.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DLQ wraps err as permanent. A nil err stays nil.
func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

// DeadLetter is the record written to the dead-letter topic. Partition and
// Offset are only set for consumed messages.
type DeadLetter struct {
	Stage         string    `json:"stage"`
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Payload       string    `json:"payload_base64"`
	Timestamp     time.Time `json:"timestamp"`
}

func consumedDeadLetter(msg *sarama.ConsumerMessage, err error, attempts int) DeadLetter {
	dl := DeadLetter{
		Stage:     StageConsume,
		Reason:    ReasonRetriesExhausted,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
	var de *DLQError
	if errors.As(err, &de) {
		dl.Reason = de.Reason
		if de.Err != nil {
			err = de.Err
		}
	}
	if err != nil {
		dl.Error = err.Error()
	}
	if msg == nil {
		return dl
	}
	partition, offset := msg.Partition, msg.Offset
	dl.OriginalTopic = msg.Topic
	dl.Partition = &partition
	dl.Offset = &offset
	dl.Key = string(msg.Key)
	if len(msg.Value) > 0 {
		dl.Payload = base64.StdEncoding.EncodeToString(msg.Value)
	}
	return dl
}

func publishedDeadLetter(topic, key string, value any, err error) DeadLetter {
	dl := DeadLetter{
		Stage:         StagePublish,
		OriginalTopic: topic,
		Key:           key,
		Reason:        ReasonPublishFailed,
		Attempts:      1,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		dl.Error = err.Error()
	}
	if value != nil {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			raw = []byte(fmt.Sprintf("%v", value))
		}
		dl.Payload = base64.StdEncoding.EncodeToString(raw)
	}
	return dl
}
