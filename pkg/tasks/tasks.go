// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestionTask asks a worker to index a dataset split.
type IngestionTask struct {
	TaskID      string    `json:"task_id"`
	Dataset     string    `json:"dataset"`
	Split       string    `json:"split"`
	Limit       int       `json:"limit"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
