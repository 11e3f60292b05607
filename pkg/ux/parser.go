// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// maxFrameBytes bounds one SSE line. Block payloads can be large tables.
const maxFrameBytes = 1 << 20

// ErrStreamEnded is returned when the body closes before a terminal event.
var ErrStreamEnded = errors.New("stream ended without a terminal event")

// SSEParser turns the lines of an event stream into StreamEvents.
//
// # Description
//
// Frames are "event: <type>" and "data: <json>" lines ended by a blank
// line. Comment lines (": ping") are keepalives and are skipped. The data
// line carries the full event, so the event line is only a cross-check.
type SSEParser interface {
	// ParseLine consumes one line. It returns an event when the line
	// completes a frame, nil otherwise.
	ParseLine(line string) (*datatypes.StreamEvent, error)
}

type sseParser struct {
	eventName string
	data      strings.Builder
}

// NewSSEParser creates a parser for one stream.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

func (p *sseParser) ParseLine(line string) (*datatypes.StreamEvent, error) {
	line = strings.TrimRight(line, "\r")

	switch {
	case line == "":
		return p.flush()
	case strings.HasPrefix(line, ":"):
		return nil, nil
	case strings.HasPrefix(line, "event:"):
		p.eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		if p.data.Len() > 0 {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	return nil, nil
}

func (p *sseParser) flush() (*datatypes.StreamEvent, error) {
	if p.data.Len() == 0 {
		p.eventName = ""
		return nil, nil
	}
	raw := p.data.String()
	name := p.eventName
	p.data.Reset()
	p.eventName = ""

	var ev datatypes.StreamEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if name != "" && ev.Type != "" && string(ev.Type) != name {
		return nil, fmt.Errorf("event line %q does not match payload type %q", name, ev.Type)
	}
	if ev.Type == "" {
		ev.Type = datatypes.StreamEventType(name)
	}
	return &ev, nil
}

// ReadStream parses r and calls fn for each event until a terminal event.
//
// # Outputs
//
//   - error: ctx.Err() on cancellation, ErrStreamEnded when the body ends
//     early, or the first error from parsing or fn.
func ReadStream(ctx context.Context, r io.Reader, fn func(datatypes.StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	parser := NewSSEParser()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := fn(*ev); err != nil {
			return err
		}
		if ev.Type.IsTerminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return ErrStreamEnded
}

var _ SSEParser = (*sseParser)(nil)
