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
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// Renderer writes stream events to a terminal or a pipe.
//
// # Description
//
// Full output styles text with lipgloss, draws cards and confirmation
// prompts in boxes and tables with borders. Minimal output keeps the layout
// without color. Machine output is one tab-separated record per line:
//
//	text	You have 2 pending reviews.
//	item	t-review-acme	Quarterly review	Acme Holdings
//	pending	pending-1741000000000-1a2b3c4d	Delete Acme Holdings?
//	done	conv-1
//
// # Thread Safety
//
// Safe for concurrent use; writes are serialized.
type Renderer struct {
	w     io.Writer
	level PersonalityLevel
	mu    sync.Mutex
}

// NewRenderer creates a Renderer for w at level.
func NewRenderer(w io.Writer, level PersonalityLevel) *Renderer {
	return &Renderer{w: w, level: level}
}

// Level returns the renderer's personality level.
func (r *Renderer) Level() PersonalityLevel {
	return r.level
}

// Render writes one event.
func (r *Renderer) Render(ev datatypes.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.level == PersonalityMachine {
		return r.renderMachine(ev)
	}

	var out string
	switch ev.Type {
	case datatypes.EventThinking:
		if r.level == PersonalityFull {
			out = r.style(Styles.Muted, "… "+ev.Status)
		}
	case datatypes.EventText:
		out = ev.Content
	case datatypes.EventBlocks:
		parts := make([]string, 0, len(ev.Blocks))
		for _, b := range ev.Blocks {
			parts = append(parts, r.block(b))
		}
		out = strings.Join(parts, "\n")
	case datatypes.EventContext:
		out = r.contextUpdate(ev.Context)
	case datatypes.EventError:
		out = IconError.Render() + " " + r.style(Styles.Error, ev.Error)
	}

	if out == "" {
		return nil
	}
	_, err := fmt.Fprintln(r.w, out)
	return err
}

// style applies s only at full level.
func (r *Renderer) style(s lipgloss.Style, text string) string {
	return Styled(s, text, r.level)
}

func (r *Renderer) block(b datatypes.Block) string {
	var sb strings.Builder
	if b.Title != "" {
		sb.WriteString(r.style(Styles.Header, b.Title))
		sb.WriteString("\n")
	}

	switch b.Kind {
	case datatypes.BlockList:
		for _, item := range b.Items {
			sb.WriteString(fmt.Sprintf("  %s %s", IconBullet, item.Label))
			if item.Detail != "" {
				sb.WriteString(" " + r.style(Styles.Muted, "("+item.Detail+")"))
			}
			sb.WriteString("\n")
		}

	case datatypes.BlockSelection:
		for i, item := range b.Items {
			sb.WriteString(fmt.Sprintf("  %d. %s", i+1, r.style(Styles.Bold, item.Label)))
			if item.Detail != "" {
				sb.WriteString(" " + r.style(Styles.Muted, item.Detail))
			}
			sb.WriteString("\n")
		}

	case datatypes.BlockTable:
		t := table.New().Headers(b.Columns...).Rows(b.Rows...)
		if r.level == PersonalityFull {
			t = t.Border(lipgloss.RoundedBorder()).BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep))
		} else {
			t = t.Border(lipgloss.NormalBorder())
		}
		sb.WriteString(t.String())
		sb.WriteString("\n")

	case datatypes.BlockCard, datatypes.BlockReport:
		lines := make([]string, 0, len(b.Fields))
		for _, f := range b.Fields {
			lines = append(lines, fmt.Sprintf("%s: %s", r.style(Styles.Bold, f.Label), f.Value))
		}
		body := strings.Join(lines, "\n")
		if b.Kind == datatypes.BlockCard && r.level == PersonalityFull {
			body = Styles.Card.Render(body)
		}
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Renderer) contextUpdate(cu *datatypes.ContextUpdate) string {
	if cu == nil {
		return ""
	}
	var parts []string
	if pc := cu.PendingConfirmation; pc != nil {
		prompt := fmt.Sprintf("%s\nReply \"yes\" to proceed or \"no\" to cancel. Expires %s.",
			pc.Message, pc.ExpiresAt.Local().Format("15:04:05"))
		if r.level == PersonalityFull {
			parts = append(parts, Styles.WarningBox.Render(Styles.Warning.Bold(true).Render("Confirmation required")+"\n"+prompt))
		} else {
			parts = append(parts, string(IconWarning)+" Confirmation required: "+prompt)
		}
	}
	if cu.UndoAvailable && cu.UndoDescription != "" {
		parts = append(parts, r.style(Styles.Muted, fmt.Sprintf("%s Say \"undo\" to revert: %s", IconUndo, cu.UndoDescription)))
	}
	return strings.Join(parts, "\n")
}

func (r *Renderer) renderMachine(ev datatypes.StreamEvent) error {
	var lines [][]string
	switch ev.Type {
	case datatypes.EventText:
		lines = append(lines, []string{"text", ev.Content})
	case datatypes.EventBlocks:
		for _, b := range ev.Blocks {
			lines = append(lines, []string{"block", string(b.Kind), b.Title})
			for _, item := range b.Items {
				lines = append(lines, []string{"item", item.ID, item.Label, item.Detail})
			}
			if len(b.Columns) > 0 {
				lines = append(lines, append([]string{"columns"}, b.Columns...))
			}
			for _, row := range b.Rows {
				lines = append(lines, append([]string{"row"}, row...))
			}
			for _, f := range b.Fields {
				lines = append(lines, []string{"field", f.Label, f.Value})
			}
		}
	case datatypes.EventContext:
		if cu := ev.Context; cu != nil {
			if pc := cu.PendingConfirmation; pc != nil {
				lines = append(lines, []string{"pending", pc.ID, pc.Message})
			}
			if cu.UndoAvailable {
				lines = append(lines, []string{"undo", cu.UndoDescription})
			}
		}
	case datatypes.EventDone:
		lines = append(lines, []string{"done", ev.ConversationID})
	case datatypes.EventError:
		lines = append(lines, []string{"error", ev.ErrorCode, ev.Error})
	}

	for _, fields := range lines {
		for i, f := range fields {
			fields[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(f)
		}
		if _, err := fmt.Fprintln(r.w, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}
