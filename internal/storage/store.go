// Package storage is the directory-partitioned columnar store rooted at
// <base>/raw/landing/<source>/<data_type>/... (spec §4.4). Every leaf
// partition holds data.parquet plus a metadata.json sidecar; writes are
// atomic via a temp-directory-then-rename swap.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
	sherr "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/errors"
)

const (
	dataFileName     = "data.parquet"
	metadataFileName = "metadata.json"
)

// Store is a landing-zone root directory for one vendor source.
type Store struct {
	baseDir string
	source  string
}

// New returns a Store rooted at <baseDir>/raw/landing/<source>.
func New(baseDir, source string) *Store {
	return &Store{baseDir: baseDir, source: source}
}

// AssetDir is the directory holding every partition of one data type.
func (s *Store) AssetDir(dataType string) string {
	return filepath.Join(s.baseDir, "raw", "landing", s.source, dataType)
}

// PartitionDir joins an asset directory with a relative partition path
// (e.g. "trade_date=20240102" or "period=20230331/ingest_date=2023-05-15").
func (s *Store) PartitionDir(dataType, relative string) string {
	return filepath.Join(s.AssetDir(dataType), filepath.FromSlash(relative))
}

// Exists reports whether a partition directory is present — the
// idempotency marker backfill traversal checks before refetching a key.
func (s *Store) Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// writeOptions configures one WritePartition call.
type writeOptions struct {
	archivePrevious bool
}

// WriteOption customizes WritePartition.
type WriteOption func(*writeOptions)

// WithArchivePrevious moves a partition's previous data+metadata pair
// into a sibling archive/<ingest_date>/ directory, named after the
// previous version's own ingest date, before the new version
// replaces it, instead of discarding it outright (SPEC_FULL.md §4 item 4
// — applies to the non-versioned archiver kinds: trade_date, event_date,
// code, index_monthly).
func WithArchivePrevious() WriteOption {
	return func(o *writeOptions) { o.archivePrevious = true }
}

// WritePartition atomically writes f and meta into dir: both files are
// built in a temporary sibling directory, then swapped into place with
// os.Rename so readers never observe a half-written partition (spec
// Invariant 3). An empty frame writes only metadata.json, with
// row_count=0 and checksum="empty" — the absence of data.parquet
// combined with metadata presence is the canonical "known empty" marker
// (spec §4.4).
func (s *Store) WritePartition(dir string, f frame.Frame, meta Metadata, opts ...WriteOption) error {
	var o writeOptions
	for _, fn := range opts {
		fn(&o)
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return sherr.FailedToWithDetails("create partition parent directory", "storage", parent, err)
	}

	tmp, err := os.MkdirTemp(parent, ".tmp-partition-")
	if err != nil {
		return sherr.FailedToWithDetails("create temp partition directory", "storage", parent, err)
	}
	defer os.RemoveAll(tmp)

	if !f.Empty() {
		dataFile, err := os.Create(filepath.Join(tmp, dataFileName))
		if err != nil {
			return sherr.FailedToWithDetails("create data file", "storage", dir, err)
		}
		if err := writeParquet(dataFile, f); err != nil {
			dataFile.Close()
			return sherr.FailedToWithDetails("write parquet data", "storage", dir, err)
		}
		if err := dataFile.Close(); err != nil {
			return sherr.FailedToWithDetails("close data file", "storage", dir, err)
		}
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return sherr.FailedToWithDetails("marshal partition metadata", "storage", dir, err)
	}
	if err := os.WriteFile(filepath.Join(tmp, metadataFileName), metaBytes, 0o644); err != nil {
		return sherr.FailedToWithDetails("write partition metadata", "storage", dir, err)
	}

	if s.Exists(dir) {
		if o.archivePrevious {
			prevDate := meta.IngestDate
			if prev, err := s.ReadMetadata(dir); err == nil && prev.IngestDate != "" {
				prevDate = prev.IngestDate
			}
			if err := s.archivePartition(dir, prevDate); err != nil {
				return err
			}
		} else if err := os.RemoveAll(dir); err != nil {
			return sherr.FailedToWithDetails("remove previous partition", "storage", dir, err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return sherr.FailedToWithDetails("swap partition into place", "storage", dir, err)
	}
	return nil
}

// archivePartition moves dir's current contents into a sibling
// archive/<ingestDate>/ directory before the caller overwrites dir.
func (s *Store) archivePartition(dir, ingestDate string) error {
	archiveDir := filepath.Join(filepath.Dir(dir), "archive", ingestDate, filepath.Base(dir))
	if err := os.MkdirAll(filepath.Dir(archiveDir), 0o755); err != nil {
		return sherr.FailedToWithDetails("create archive directory", "storage", archiveDir, err)
	}
	if err := os.RemoveAll(archiveDir); err != nil {
		return sherr.FailedToWithDetails("clear stale archive directory", "storage", archiveDir, err)
	}
	if err := os.Rename(dir, archiveDir); err != nil {
		return sherr.FailedToWithDetails("archive previous partition", "storage", dir, err)
	}
	return nil
}

// ReadMetadata reads only the sidecar file, used by the quality checker
// and archivers deciding whether a refetch is needed without paying for a
// full Parquet decode.
func (s *Store) ReadMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return Metadata{}, sherr.FailedToWithDetails("read partition metadata", "storage", dir, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, sherr.FailedToWithDetails("parse partition metadata", "storage", dir, err)
	}
	return meta, nil
}

// ReadPartition reads both the metadata and, if present, the Parquet data
// file. A partition whose metadata says row_count=0 has no data file by
// convention; ReadPartition returns an empty Frame for it without error.
func (s *Store) ReadPartition(dir string) (frame.Frame, Metadata, error) {
	meta, err := s.ReadMetadata(dir)
	if err != nil {
		return frame.Frame{}, Metadata{}, err
	}
	dataPath := filepath.Join(dir, dataFileName)
	if _, err := os.Stat(dataPath); os.IsNotExist(err) {
		return frame.Frame{Columns: meta.SchemaFields}, meta, nil
	}
	f, err := readParquet(dataPath)
	if err != nil {
		return frame.Frame{}, Metadata{}, sherr.FailedToWithDetails("read parquet data", "storage", dir, err)
	}
	// Parquet's column order is not the write-time order (schemaFor builds
	// from a map), so restore it from metadata — frame.Checksum hashes the
	// CSV header in f.Columns order, and a reordered header would make a
	// correctly round-tripped frame checksum differently from the one that
	// was written.
	f.Columns = meta.SchemaFields
	return f, meta, nil
}

// ListPartitionDirs returns the immediate subdirectory names of an asset
// directory (e.g. "trade_date=20240102"), used for retention pruning and
// quality-check completeness sweeps. A missing asset directory returns an
// empty slice rather than an error — the asset simply has no partitions yet.
func (s *Store) ListPartitionDirs(assetDir string) ([]string, error) {
	entries, err := os.ReadDir(assetDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, sherr.FailedToWithDetails("list partition directories", "storage", assetDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "archive" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// RemovePartitionDir deletes a partition directory outright, used by
// snapshot retention pruning (spec §4.4 "Snapshot retention").
func (s *Store) RemovePartitionDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return sherr.FailedToWithDetails("remove partition directory", "storage", dir, err)
	}
	return nil
}

// NewMetadata builds the sidecar metadata for a freshly-fetched frame.
func NewMetadata(partitionKey, ingestDate string, f frame.Frame, checksum string, now time.Time) Metadata {
	return Metadata{
		PartitionKey: partitionKey,
		IngestDate:   ingestDate,
		RowCount:     len(f.Rows),
		Checksum:     checksum,
		CreatedAt:    now,
		SchemaFields: f.Columns,
	}
}

// VersionDirName renders a period archiver's ingest-date version
// subdirectory name, e.g. "ingest_date=2024-01-03" (spec §4.4 period row).
func VersionDirName(ingestDate time.Time) string {
	return fmt.Sprintf("ingest_date=%s", ingestDate.Format("2006-01-02"))
}
