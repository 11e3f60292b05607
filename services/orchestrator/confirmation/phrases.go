// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confirmation

import (
	"regexp"
	"strings"
)

// SignalKind classifies a message as a confirmation reply.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalConfirm
	SignalCancel
)

func (k SignalKind) String() string {
	switch k {
	case SignalConfirm:
		return "confirm"
	case SignalCancel:
		return "cancel"
	}
	return "none"
}

// Signal is the detector's verdict. ID is set when the message names a
// confirmation explicitly ("confirm pending-123-ab12cd34").
type Signal struct {
	Kind SignalKind
	ID   string
}

// PhraseDetector decides whether a message is a confirm or cancel reply.
//
// # Description
//
// Runs before intent routing. Implementations must be pure and safe for
// concurrent use. A regex detector is the default; a scored or learned
// detector can replace it without touching the pipeline.
type PhraseDetector interface {
	Detect(message string) Signal
}

var (
	explicitIDPattern = regexp.MustCompile(`^(confirm|approve|cancel|reject)\s+(pending-[a-z0-9-]+)$`)

	confirmPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(yes|yep|yeah|y|ok|okay|sure)(\s*[,!.]?\s*(confirm|proceed|do it|go ahead|please))?[.!]*$`),
		regexp.MustCompile(`^(confirm|confirmed|approve|approved)[.!]*$`),
		regexp.MustCompile(`^(go ahead|proceed|do it)[.!]*$`),
	}

	cancelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(no|nope|n)(\s*[,!.]?\s*(cancel|stop|don'?t|do not))?[.!]*$`),
		regexp.MustCompile(`^(cancel|cancel that|cancel it|abort|stop|nevermind|never mind|forget it)[.!]*$`),
	}
)

// RegexDetector is the default PhraseDetector.
type RegexDetector struct{}

// NewRegexDetector returns the default detector.
func NewRegexDetector() PhraseDetector {
	return RegexDetector{}
}

// Detect lower-cases and trims message and matches it against the confirm
// and cancel phrase sets. Only whole-message matches count, so "cancel my
// meeting with Chen" is not a cancel reply.
func (RegexDetector) Detect(message string) Signal {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Signal{}
	}

	if m := explicitIDPattern.FindStringSubmatch(text); m != nil {
		kind := SignalConfirm
		if m[1] == "cancel" || m[1] == "reject" {
			kind = SignalCancel
		}
		return Signal{Kind: kind, ID: m[2]}
	}
	for _, p := range confirmPatterns {
		if p.MatchString(text) {
			return Signal{Kind: SignalConfirm}
		}
	}
	for _, p := range cancelPatterns {
		if p.MatchString(text) {
			return Signal{Kind: SignalCancel}
		}
	}
	return Signal{}
}

var _ PhraseDetector = RegexDetector{}
