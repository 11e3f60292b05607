// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// logFileMode restricts the audit log to the service user.
const logFileMode = 0600

// FileSink appends hash-chained JSON lines to a file.
//
// # Description
//
// On open, the chain state is restored from the last record in the file so
// a restarted service continues the same chain.
//
// # Thread Safety
//
// Safe for concurrent use. Writes are serialized by a mutex.
//
// # Limitations
//
//   - No rotation; ReopenLogFile supports external rotation tools
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	chain   chain
	encoder *json.Encoder
}

// OpenFileSink opens or creates the log at path.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	sink := &FileSink{path: path, chain: newChain()}
	if err := sink.initializeChainState(); err != nil {
		return nil, fmt.Errorf("initialize chain state: %w", err)
	}
	if err := sink.openFile(); err != nil {
		return nil, err
	}

	slog.Info("confirmation audit log initialized",
		"log_path", path,
		"starting_sequence", sink.chain.sequence,
	)
	return sink, nil
}

func (s *FileSink) openFile() error {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// Append writes one record and advances the chain.
func (s *FileSink) Append(_ context.Context, entry Entry) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return Record{}, fmt.Errorf("audit log is closed")
	}

	record := s.chain.next(entry)
	if err := s.encoder.Encode(record); err != nil {
		return Record{}, fmt.Errorf("write audit record: %w", err)
	}
	s.chain.commit(record)
	return record, nil
}

// VerifyChain re-reads the file and checks every link.
//
// # Outputs
//
//   - valid: True if every record links to its predecessor and hashes match.
//   - breakIndex: Zero-based index of the first bad record, or -1.
//   - err: Non-nil if the file cannot be read.
func (s *FileSink) VerifyChain() (valid bool, breakIndex int64, err error) {
	records, err := readRecords(s.path)
	if err != nil {
		return false, -1, err
	}
	valid, breakIndex = verifyRecords(records)
	return valid, breakIndex, nil
}

// ReopenLogFile closes and reopens the file after external rotation.
func (s *FileSink) ReopenLogFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			slog.Warn("audit: error closing old log file during rotation", "path", s.path, "error", err)
		}
		s.file = nil
	}
	return s.openFile()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

func (s *FileSink) initializeChainState() error {
	records, err := readRecords(s.path)
	if err != nil {
		return err
	}
	if n := len(records); n > 0 {
		s.chain.commit(records[n-1])
	}
	return nil
}

// readRecords loads every parseable record. Missing files yield none.
func readRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log for reading: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			records = append(records, record)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

var _ Sink = (*FileSink)(nil)
