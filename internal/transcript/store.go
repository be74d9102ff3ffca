// Package transcript persists the raw chunks of each run as JSONL so a run
// can be listed and replayed through a fresh session later.
package transcript

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openclaude/jobstream/internal/config"
)

// Record types stored in a run file.
const (
	RecordRun     = "run"
	RecordChunk   = "chunk"
	RecordOutcome = "outcome"
)

// maxRecordSize caps a single JSONL line when loading.
const maxRecordSize = 10 * 1024 * 1024

// Store manages run transcripts under ~/.jobstream/runs.
type Store struct {
	// BaseDir is the root for all persisted data.
	BaseDir string
}

// RunRecord opens a transcript.
type RunRecord struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// ChunkRecord holds one decoded transport chunk, verbatim.
type ChunkRecord struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutcomeRecord closes a transcript.
type OutcomeRecord struct {
	Type    string    `json:"type"`
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

// Run is a loaded transcript.
type Run struct {
	// Header is nil if the file lacks a run record.
	Header *RunRecord
	// Chunks are in arrival order.
	Chunks []string
	// Outcome is nil for runs that never finished recording.
	Outcome *OutcomeRecord
}

// Summary describes a stored run for listing.
type Summary struct {
	RunID   string    `json:"run_id"`
	Mode    string    `json:"mode,omitempty"`
	Target  string    `json:"target,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	ModTime time.Time `json:"updated_at"`
}

// NewStore constructs a Store using the default base directory.
func NewStore() (*Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return &Store{BaseDir: dir}, nil
}

// ProjectHash returns a stable hash for a workspace path.
func ProjectHash(path string) string {
	clean := filepath.Clean(path)
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:8])
}

// RunPath returns the JSONL path for a run.
func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.BaseDir, "runs", runID+".jsonl")
}

// Append writes one JSONL record for the run.
func (s *Store) Append(runID string, record any) error {
	if runID == "" {
		return errors.New("run id required")
	}
	path := s.RunPath(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open run file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Begin writes the run header.
func (s *Store) Begin(runID string, mode string, target string) error {
	return s.Append(runID, RunRecord{
		Type:      RecordRun,
		RunID:     runID,
		Mode:      mode,
		Target:    target,
		StartedAt: time.Now().UTC(),
	})
}

// AppendChunk stores a decoded chunk. Empty chunks are skipped.
func (s *Store) AppendChunk(runID string, text string) error {
	if text == "" {
		return nil
	}
	return s.Append(runID, ChunkRecord{Type: RecordChunk, Text: text})
}

// Finish writes the outcome record.
func (s *Store) Finish(runID string, kind string, message string) error {
	return s.Append(runID, OutcomeRecord{
		Type:    RecordOutcome,
		Kind:    kind,
		Message: message,
		EndedAt: time.Now().UTC(),
	})
}

// Load reads a run transcript. Malformed lines are skipped so a transcript
// cut off by a crash still replays.
func (s *Store) Load(runID string) (*Run, error) {
	return LoadFile(s.RunPath(runID))
}

// LoadFile reads a transcript from an explicit path.
func LoadFile(path string) (*Run, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	run := &Run{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		switch probe.Type {
		case RecordRun:
			var header RunRecord
			if err := json.Unmarshal([]byte(line), &header); err == nil {
				run.Header = &header
			}
		case RecordChunk:
			var chunk ChunkRecord
			if err := json.Unmarshal([]byte(line), &chunk); err == nil {
				run.Chunks = append(run.Chunks, chunk.Text)
			}
		case RecordOutcome:
			var outcome OutcomeRecord
			if err := json.Unmarshal([]byte(line), &outcome); err == nil {
				run.Outcome = &outcome
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	return run, nil
}

// SaveLastRun stores the last run id for a project hash.
func (s *Store) SaveLastRun(projectHash string, runID string) error {
	path := filepath.Join(s.BaseDir, "projects", projectHash, "last_run")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(runID), 0o600); err != nil {
		return fmt.Errorf("write last run: %w", err)
	}
	return nil
}

// LoadLastRun returns the last run id for a project hash.
func (s *Store) LoadLastRun(projectHash string) (string, error) {
	path := filepath.Join(s.BaseDir, "projects", projectHash, "last_run")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ListRuns returns recent runs sorted by modification time, newest first.
// A missing runs directory yields an empty list.
func (s *Store) ListRuns(limit int) ([]Summary, error) {
	dir := filepath.Join(s.BaseDir, "runs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var list []Summary
	for _, item := range entries {
		if item.IsDir() || filepath.Ext(item.Name()) != ".jsonl" {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		list = append(list, Summary{
			RunID:   strings.TrimSuffix(item.Name(), filepath.Ext(item.Name())),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ModTime.After(list[j].ModTime)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	for i := range list {
		run, err := s.Load(list[i].RunID)
		if err != nil {
			continue
		}
		if run.Header != nil {
			list[i].Mode = run.Header.Mode
			list[i].Target = run.Header.Target
		}
		if run.Outcome != nil {
			list[i].Outcome = run.Outcome.Kind
		}
	}
	return list, nil
}
