package work

import (
	"encoding/json"
	"fmt"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// CodecVersion is the current queue encoding version.
const CodecVersion = 1

type wireQueue struct {
	Version int        `json:"version"`
	QueueID string     `json:"queue_id"`
	Index   string     `json:"index"`
	Items   []wireItem `json:"items"`
}

type wireItem struct {
	Kind   Kind              `json:"kind"`
	Type   string            `json:"type,omitempty"`
	ID     string            `json:"id,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	WorkID string            `json:"work_id,omitempty"`
}

// Encode serializes a queue. Monitors are local to the producing process and
// are not encoded.
func Encode(q *Queue) ([]byte, error) {
	items := q.Items()
	wq := wireQueue{
		Version: CodecVersion,
		QueueID: q.ID(),
		Index:   q.Index(),
		Items:   make([]wireItem, len(items)),
	}
	for i, item := range items {
		wq.Items[i] = wireItem{
			Kind:   item.kind,
			Type:   item.entityType,
			ID:     item.identifier,
			Fields: item.fields,
			WorkID: item.workID,
		}
	}

	data, err := json.Marshal(wq)
	if err != nil {
		return nil, fmt.Errorf("encode work queue: %w", err)
	}
	return data, nil
}

// Decode rebuilds a sealed queue from Encode output. Items are validated but
// not coalesced again, so the decoded sequence is exactly the encoded one.
func Decode(data []byte, opts ...QueueOption) (*Queue, error) {
	var wq wireQueue
	if err := json.Unmarshal(data, &wq); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidEnvelope, "decode work queue", err)
	}
	if wq.Version != CodecVersion {
		return nil, ierrors.New(ierrors.ErrCodeInvalidEnvelope,
			fmt.Sprintf("unsupported work queue version %d", wq.Version), nil)
	}

	q := NewQueue(wq.Index, append([]QueueOption{WithID(wq.QueueID)}, opts...)...)
	q.items = make([]Item, 0, len(wq.Items))
	for i, wi := range wq.Items {
		item, err := NewItem(wi.Kind, wi.Type, wi.ID, wi.Fields)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeInvalidEnvelope,
				fmt.Sprintf("decode work item %d", i), err)
		}
		q.items = append(q.items, item.WithWorkID(wi.WorkID))
	}
	q.sealed = true
	return q, nil
}
