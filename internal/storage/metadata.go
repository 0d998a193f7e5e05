package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// ErrNotFound is returned when no record matches a job ID.
var ErrNotFound = errors.New("transcript not found")

// TranscriptRecord is one row of the job table.
type TranscriptRecord struct {
	JobID       string         `json:"job_id"`
	RequestName string         `json:"request_name"`
	SourceType  string         `json:"source_type"`
	Status      string         `json:"status"`
	ObjectURI   string         `json:"object_uri,omitempty"`
	GDriveURL   string         `json:"gdrive_url,omitempty"`
	LocalPath   string         `json:"local_path,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	TurnCount   int            `json:"turn_count"`
	WordCount   int            `json:"word_count"`
	Summary     *types.Summary `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		request_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		status TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		gdrive_url TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_created_at ON transcripts(created_at);
	CREATE INDEX IF NOT EXISTS idx_request_name ON transcripts(request_name);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db, now: time.Now}, nil
}

// CreateJob records a newly queued job.
func (mdb *MetadataDB) CreateJob(jobID, requestName, sourceType string) error {
	query := `
	INSERT INTO transcripts (job_id, request_name, source_type, status, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO NOTHING
	`
	if _, err := mdb.db.Exec(query, jobID, requestName, sourceType, types.StatusQueued, mdb.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// MarkProcessing flags a job as picked up by a worker.
func (mdb *MetadataDB) MarkProcessing(jobID string) error {
	return mdb.setStatus(jobID, types.StatusProcessing, "")
}

// MarkFailed records a job failure.
func (mdb *MetadataDB) MarkFailed(jobID, reason string) error {
	return mdb.setStatus(jobID, types.StatusFailed, reason)
}

func (mdb *MetadataDB) setStatus(jobID, status, reason string) error {
	res, err := mdb.db.Exec(`UPDATE transcripts SET status = ?, error = ? WHERE job_id = ?`, status, reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// SaveTranscript stores a completed job, creating the row if the job was
// never registered.
func (mdb *MetadataDB) SaveTranscript(requestName, sourceType string, result *types.TranscriptionResult) error {
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	query := `
	INSERT INTO transcripts (job_id, request_name, source_type, status, object_uri, gdrive_url, local_path,
		created_at, turn_count, word_count, summary, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		object_uri = excluded.object_uri,
		gdrive_url = excluded.gdrive_url,
		local_path = excluded.local_path,
		turn_count = excluded.turn_count,
		word_count = excluded.word_count,
		summary = excluded.summary,
		error = ''
	`

	_, err = mdb.db.Exec(query, result.JobID, requestName, sourceType, types.StatusCompleted,
		result.ObjectURI, result.GDriveURL, result.LocalPath, mdb.now().UnixMilli(),
		len(result.Turns), result.WordCount, string(summaryJSON))
	if err != nil {
		return fmt.Errorf("failed to save transcript metadata: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT job_id, request_name, source_type, status, object_uri, gdrive_url, local_path,
		created_at, turn_count, word_count, summary, error
	FROM transcripts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*TranscriptRecord, error) {
	var (
		rec       TranscriptRecord
		createdAt int64
		summary   string
	)
	err := row.Scan(&rec.JobID, &rec.RequestName, &rec.SourceType, &rec.Status, &rec.ObjectURI,
		&rec.GDriveURL, &rec.LocalPath, &createdAt, &rec.TurnCount, &rec.WordCount, &summary, &rec.Error)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	if summary != "" {
		var s types.Summary
		if err := json.Unmarshal([]byte(summary), &s); err == nil {
			rec.Summary = &s
		}
	}
	return &rec, nil
}

// GetTranscript retrieves transcript metadata by job ID
func (mdb *MetadataDB) GetTranscript(jobID string) (*TranscriptRecord, error) {
	rec, err := scanRecord(mdb.db.QueryRow(selectColumns+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return rec, nil
}

// ListTranscripts returns the newest records first.
func (mdb *MetadataDB) ListTranscripts(limit int) ([]TranscriptRecord, error) {
	rows, err := mdb.db.Query(selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := []TranscriptRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, *rec)
	}
	return transcripts, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
