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
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityEnv overrides output detection.
const PersonalityEnv = "ALEUTIAN_PERSONALITY"

// PersonalityLevel defines the richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull enables colors, boxes and the thinking line
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal uses icons and plain text
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs tab-separated lines for scripts
	PersonalityMachine PersonalityLevel = "machine"
)

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown
// values select full.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectPersonality picks a level for w. The ALEUTIAN_PERSONALITY variable
// wins; otherwise a terminal gets full output and anything else machine.
func DetectPersonality(w io.Writer) PersonalityLevel {
	if env := os.Getenv(PersonalityEnv); env != "" {
		return ParsePersonalityLevel(env)
	}
	if isTerminal(w) {
		return PersonalityFull
	}
	return PersonalityMachine
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
