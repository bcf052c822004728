package storage

import "time"

// Metadata is the sidecar JSON written alongside every partition's data
// file (spec §3 "PartitionRecord", §4.4).
type Metadata struct {
	PartitionKey string    `json:"partition_key"`
	IngestDate   string    `json:"ingest_date"`
	RowCount     int       `json:"row_count"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
	SchemaFields []string  `json:"schema_fields"`
}
