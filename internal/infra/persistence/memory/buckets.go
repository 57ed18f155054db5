package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot sections persisted by the SQL drivers, in write order.
var Buckets = []string{"patients", "evaluations", "pending_items"}

// EncodeBuckets marshals each section of snapshot to JSON keyed by bucket.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case "patients":
			data, err = json.Marshal(snapshot.Patients)
		case "evaluations":
			data, err = json.Marshal(snapshot.Evaluations)
		case "pending_items":
			data, err = json.Marshal(snapshot.PendingItems)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals one bucket payload into snapshot. Unknown buckets
// are ignored.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "patients":
		target = &snapshot.Patients
	case "evaluations":
		target = &snapshot.Evaluations
	case "pending_items":
		target = &snapshot.PendingItems
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
