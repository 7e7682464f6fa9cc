package notify

import (
	"encoding/json"
	"time"

	"NProject/tools/errs"
)

// Two job kinds travel on the stream, each on its own subject: a single
// notification create and a batch create carrying the payload array.
const (
	JobKindSingle = "single"
	JobKindBatch  = "batch"
)

// Notification categories carried inside a job.
const (
	KindMention = "mention"
	KindShare   = "share"
	KindDigest  = "digest"
)

type NotificationJob struct {
	JobID     string          `json:"job_id"`
	Kind      string          `json:"kind"`
	UserID    string          `json:"user_id"`
	NoteID    string          `json:"note_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (j *NotificationJob) Validate() error {
	if j.Kind == "" {
		return errs.ErrInvalidParam.WithDetail("kind required")
	}
	if j.UserID == "" {
		return errs.ErrInvalidParam.WithDetail("user_id required")
	}
	return nil
}

func (j *NotificationJob) Marshal() ([]byte, error) { return json.Marshal(j) }

func UnmarshalJob(raw []byte) (*NotificationJob, error) {
	var j NotificationJob
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, errs.Wrap(err, "unmarshal notification job")
	}
	return &j, nil
}

// BatchJob is the payload of one batch-create job: the whole array is
// delivered to the collaborator in a single CreateBatch call, and retried
// or dead-lettered as one unit.
type BatchJob struct {
	BatchID   string             `json:"batch_id"`
	Jobs      []*NotificationJob `json:"jobs"`
	CreatedAt time.Time          `json:"created_at"`
}

func (b *BatchJob) Validate() error {
	if len(b.Jobs) == 0 {
		return errs.ErrInvalidParam.WithDetail("empty batch")
	}
	for _, j := range b.Jobs {
		if err := j.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BatchJob) Marshal() ([]byte, error) { return json.Marshal(b) }

func UnmarshalBatchJob(raw []byte) (*BatchJob, error) {
	var b BatchJob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errs.Wrap(err, "unmarshal batch job")
	}
	return &b, nil
}
