//go:build ignore

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_tool_docs writes a markdown reference of the built-in tool
// catalog.
//
// Usage:
//
//	go run scripts/generate_tool_docs.go > docs/tools.md
//
// The output has a summary table, one section per intent and the parameter
// schema of every tool.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

func main() {
	reg := tools.NewRegistry()
	if err := tools.RegisterDefaults(reg, tools.Deps{Store: workspace.NewMemoryStore()}); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering tools: %v\n", err)
		os.Exit(1)
	}
	if err := generateMarkdown(os.Stdout, reg.Specs()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing markdown: %v\n", err)
		os.Exit(1)
	}
}

func generateMarkdown(w io.Writer, specs []datatypes.ToolSpec) error {
	byIntent := make(map[datatypes.Intent][]datatypes.ToolSpec)
	var intents []datatypes.Intent
	mutating, confirmed := 0, 0
	for _, s := range specs {
		if _, ok := byIntent[s.Intent]; !ok {
			intents = append(intents, s.Intent)
		}
		byIntent[s.Intent] = append(byIntent[s.Intent], s)
		if s.Mutating {
			mutating++
		}
		if s.RequiresConfirmation {
			confirmed++
		}
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })

	var b strings.Builder
	b.WriteString("# Tool Reference\n\n")
	fmt.Fprintf(&b, "_Generated %s by scripts/generate_tool_docs.go. Do not edit._\n\n", time.Now().UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "%d tools, %d mutating, %d behind a confirmation prompt.\n\n", len(specs), mutating, confirmed)

	b.WriteString("| Tool | Intent | Entity | Mutating | Confirm | Undo |\n")
	b.WriteString("|------|--------|--------|----------|---------|------|\n")
	for _, s := range specs {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s |\n",
			s.Name, s.Intent, orDash(string(s.EntityType)), check(s.Mutating), check(s.RequiresConfirmation), check(s.Undoable))
	}

	for _, intent := range intents {
		fmt.Fprintf(&b, "\n## %s\n", intent)
		for _, s := range byIntent[intent] {
			fmt.Fprintf(&b, "\n### `%s`\n\n%s\n", s.Name, s.Description)
			if len(s.Params) == 0 {
				continue
			}
			b.WriteString("\n| Param | Type | Required | Description |\n")
			b.WriteString("|-------|------|----------|-------------|\n")
			for _, p := range s.Params {
				desc := p.Description
				if len(p.Enum) > 0 {
					desc += " One of: " + strings.Join(p.Enum, ", ") + "."
				}
				fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", p.Name, p.Type, check(p.Required), desc)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func check(v bool) string {
	if v {
		return "yes"
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
