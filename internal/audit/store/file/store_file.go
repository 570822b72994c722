// Package file persists the audit trail as an append-only JSON-lines file.
//
// Each line carries a sequence number and a sha256 hash chained to the
// previous line, so truncation or in-place edits are detectable with Verify.
// Appends go through one O_APPEND handle under a mutex and are fsynced before
// Append returns; the file is never read back and rewritten.
package file

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"remitgate/internal/audit"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// maxLineBytes bounds a single entry line when scanning.
const maxLineBytes = 1 << 20

// ErrChainBroken is returned by Verify when the hash chain does not hold.
var ErrChainBroken = errors.New("audit chain broken")

type record struct {
	Seq      uint64 `json:"seq"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
	audit.Entry
}

// Store is the file-backed audit.Store.
type Store struct {
	path string

	mu       sync.Mutex
	f        *os.File
	seq      uint64
	lastHash string
}

// Open opens (or creates) the log at path and recovers the chain head.
func Open(path string) (*Store, error) {
	s := &Store{path: path, lastHash: genesisHash}

	records, err := readRecords(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if n := len(records); n > 0 {
		s.seq = records[n-1].Seq
		s.lastHash = records[n-1].Hash
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s.f = f
	return s, nil
}

// Append writes entry as the next chained line and syncs it to disk.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("audit log %s is closed", s.path)
	}

	rec := record{Seq: s.seq + 1, PrevHash: s.lastHash, Entry: entry}
	hash, err := chainHash(rec.PrevHash, rec.Seq, entry)
	if err != nil {
		return err
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	s.seq = rec.Seq
	s.lastHash = rec.Hash
	return nil
}

// ReadAll returns every entry in append order.
func (s *Store) ReadAll(_ context.Context) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readRecords(s.path)
	if err != nil {
		return nil, err
	}
	entries := make([]audit.Entry, len(records))
	for i, rec := range records {
		entries[i] = rec.Entry
	}
	return entries, nil
}

// Verify walks the file and checks sequence continuity and hash linkage.
func (s *Store) Verify(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readRecords(s.path)
	if err != nil {
		return err
	}
	prev := genesisHash
	for i, rec := range records {
		if rec.Seq != uint64(i+1) {
			return fmt.Errorf("%w: line %d has seq %d", ErrChainBroken, i+1, rec.Seq)
		}
		if rec.PrevHash != prev {
			return fmt.Errorf("%w: line %d prev_hash mismatch", ErrChainBroken, i+1)
		}
		want, err := chainHash(rec.PrevHash, rec.Seq, rec.Entry)
		if err != nil {
			return err
		}
		if rec.Hash != want {
			return fmt.Errorf("%w: line %d hash mismatch", ErrChainBroken, i+1)
		}
		prev = rec.Hash
	}
	return nil
}

// Close releases the file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func chainHash(prev string, seq uint64, entry audit.Entry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%d|", prev, seq)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readRecords(path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeRecords(f)
}

func decodeRecords(r io.Reader) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode audit line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return records, nil
}
