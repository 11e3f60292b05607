// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package responder turns tool results and routing outcomes into the text
// and blocks a turn streams back.
package responder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

// Response is the rendered output of one turn.
type Response struct {
	Text   string
	Blocks []datatypes.Block
}

// Cards returns the card blocks of r.
func (r Response) Cards() []datatypes.Block {
	var cards []datatypes.Block
	for _, b := range r.Blocks {
		if b.Kind == datatypes.BlockCard {
			cards = append(cards, b)
		}
	}
	return cards
}

// Builder renders responses. Dates are shown relative to the clock.
type Builder struct {
	clock ttl.Clock
}

// New creates a Builder. A nil clock uses the system clock.
func New(clock ttl.Clock) *Builder {
	if clock == nil {
		clock = ttl.NewSystemClock()
	}
	return &Builder{clock: clock}
}

// Result renders a tool result. Failed results become text only.
func (b *Builder) Result(r datatypes.ToolResult) Response {
	if !r.Success {
		text := r.ErrorMessage()
		if text == "" {
			text = "Something went wrong with that request."
		}
		return Response{Text: text}
	}

	text := r.Message
	if text == "" {
		text = "Done."
	}
	resp := Response{Text: text}
	if r.RenderAs == datatypes.RenderText || r.RenderAs == datatypes.RenderNone {
		return resp
	}
	resp.Blocks = b.blocks(r.Data, r.RenderAs)
	return resp
}

// Selection renders a disambiguation prompt.
func (b *Builder) Selection(mm *datatypes.MultiMatch) Response {
	items := make([]datatypes.BlockItem, 0, len(mm.Matches))
	for _, m := range mm.Matches {
		items = append(items, datatypes.BlockItem{ID: m.ID, Label: m.DisplayName, Detail: m.Summary, Score: m.Score})
	}
	return Response{
		Text:   mm.Reason + ". Which one do you mean?",
		Blocks: []datatypes.Block{{Kind: datatypes.BlockSelection, Title: "Choose " + article(mm.EntityType), Items: items}},
	}
}

// Clarification renders a question for a missing or unknown value.
func (b *Builder) Clarification(c *datatypes.Clarification) Response {
	return Response{Text: c.Question}
}

// Confirmation renders the prompt for a pending confirmation.
func (b *Builder) Confirmation(pc datatypes.PendingConfirmation) Response {
	return Response{Text: pc.Message}
}

// Text renders plain text.
func (b *Builder) Text(s string) Response {
	return Response{Text: s}
}

// =============================================================================
// Blocks
// =============================================================================

func (b *Builder) blocks(data any, as datatypes.RenderAs) []datatypes.Block {
	switch v := data.(type) {
	case []datatypes.Task:
		if len(v) == 0 {
			return nil
		}
		if as == datatypes.RenderTable {
			return []datatypes.Block{b.taskTable(v)}
		}
		return []datatypes.Block{b.taskList("Tasks", v)}
	case datatypes.Task:
		return []datatypes.Block{b.taskCard(v)}
	case []datatypes.Client:
		if len(v) == 0 {
			return nil
		}
		return []datatypes.Block{clientList(v)}
	case datatypes.Client:
		return []datatypes.Block{clientCard(v)}
	case datatypes.ClientSummary:
		return b.summary(v)
	case []datatypes.Opportunity:
		if len(v) == 0 {
			return nil
		}
		return []datatypes.Block{b.opportunityTable(v)}
	case datatypes.Opportunity:
		return []datatypes.Block{b.opportunityCard(v)}
	case datatypes.PipelineReport:
		return []datatypes.Block{pipeline(v)}
	case []datatypes.HelpTopic:
		items := make([]datatypes.BlockItem, 0, len(v))
		for _, h := range v {
			items = append(items, datatypes.BlockItem{Label: h.Description, Detail: fmt.Sprintf("Try %q", h.Example)})
		}
		return []datatypes.Block{{Kind: datatypes.BlockList, Title: "What I can do", Items: items}}
	}
	return nil
}

func (b *Builder) taskList(title string, tasks []datatypes.Task) datatypes.Block {
	items := make([]datatypes.BlockItem, 0, len(tasks))
	for _, t := range tasks {
		detail := []string{humanize(t.Kind)}
		if t.Priority == "high" {
			detail = append(detail, "high priority")
		}
		if t.DueDate != nil {
			detail = append(detail, b.due(*t.DueDate, t.Status))
		}
		if t.Status != datatypes.TaskStatusPending {
			detail = append(detail, humanize(t.Status))
		}
		items = append(items, datatypes.BlockItem{ID: t.ID, Label: t.Title, Detail: strings.Join(detail, " · ")})
	}
	return datatypes.Block{Kind: datatypes.BlockList, Title: title, Items: items}
}

func (b *Builder) taskTable(tasks []datatypes.Task) datatypes.Block {
	block := datatypes.Block{Kind: datatypes.BlockTable, Title: "Tasks", Columns: []string{"Task", "Kind", "Priority", "Status", "Due"}}
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = b.due(*t.DueDate, t.Status)
		}
		block.Rows = append(block.Rows, []string{t.Title, humanize(t.Kind), t.Priority, humanize(t.Status), due})
	}
	return block
}

func (b *Builder) taskCard(t datatypes.Task) datatypes.Block {
	fields := []datatypes.BlockField{
		{Label: "Status", Value: humanize(t.Status)},
		{Label: "Kind", Value: humanize(t.Kind)},
		{Label: "Priority", Value: t.Priority},
	}
	if t.DueDate != nil {
		fields = append(fields, datatypes.BlockField{Label: "Due", Value: b.due(*t.DueDate, t.Status)})
	}
	return datatypes.Block{Kind: datatypes.BlockCard, Title: t.Title, Fields: fields}
}

func clientList(clients []datatypes.Client) datatypes.Block {
	items := make([]datatypes.BlockItem, 0, len(clients))
	for _, c := range clients {
		detail := nonEmpty(c.Company, c.Segment, c.Email)
		items = append(items, datatypes.BlockItem{ID: c.ID, Label: c.Name, Detail: strings.Join(detail, " · ")})
	}
	return datatypes.Block{Kind: datatypes.BlockList, Title: "Clients", Items: items}
}

func clientCard(c datatypes.Client) datatypes.Block {
	var fields []datatypes.BlockField
	add := func(label, value string) {
		if value != "" {
			fields = append(fields, datatypes.BlockField{Label: label, Value: value})
		}
	}
	add("Company", c.Company)
	add("Email", c.Email)
	add("Phone", c.Phone)
	add("Segment", c.Segment)
	add("Status", c.Status)
	if c.AUM > 0 {
		add("Assets under management", tools.FormatMoney(c.AUM))
	}
	add("Notes", c.Notes)
	return datatypes.Block{Kind: datatypes.BlockCard, Title: c.Name, Fields: fields}
}

func (b *Builder) summary(s datatypes.ClientSummary) []datatypes.Block {
	report := datatypes.Block{
		Kind:  datatypes.BlockReport,
		Title: s.Client.Name,
		Fields: []datatypes.BlockField{
			{Label: "Open tasks", Value: strconv.Itoa(len(s.OpenTasks))},
			{Label: "Opportunities", Value: strconv.Itoa(len(s.Opportunities))},
			{Label: "Open pipeline", Value: tools.FormatMoney(s.PipelineValue)},
		},
	}
	if s.Client.AUM > 0 {
		report.Fields = append(report.Fields, datatypes.BlockField{Label: "Assets under management", Value: tools.FormatMoney(s.Client.AUM)})
	}
	out := []datatypes.Block{report}
	if len(s.OpenTasks) > 0 {
		out = append(out, b.taskList("Open tasks", s.OpenTasks))
	}
	return out
}

func (b *Builder) opportunityTable(opps []datatypes.Opportunity) datatypes.Block {
	block := datatypes.Block{Kind: datatypes.BlockTable, Title: "Opportunities", Columns: []string{"Opportunity", "Stage", "Amount", "Close"}}
	for _, o := range opps {
		closeDate := ""
		if o.CloseDate != nil {
			closeDate = o.CloseDate.Format("Jan 2, 2006")
		}
		block.Rows = append(block.Rows, []string{o.Name, o.Stage, tools.FormatMoney(o.Amount), closeDate})
	}
	return block
}

func (b *Builder) opportunityCard(o datatypes.Opportunity) datatypes.Block {
	fields := []datatypes.BlockField{
		{Label: "Stage", Value: o.Stage},
		{Label: "Amount", Value: tools.FormatMoney(o.Amount)},
	}
	if o.CloseDate != nil {
		fields = append(fields, datatypes.BlockField{Label: "Expected close", Value: o.CloseDate.Format("Jan 2, 2006")})
	}
	return datatypes.Block{Kind: datatypes.BlockCard, Title: o.Name, Fields: fields}
}

func pipeline(r datatypes.PipelineReport) datatypes.Block {
	block := datatypes.Block{
		Kind:    datatypes.BlockReport,
		Title:   "Pipeline",
		Columns: []string{"Stage", "Count", "Value"},
		Fields: []datatypes.BlockField{
			{Label: "Open value", Value: tools.FormatMoney(r.OpenValue)},
			{Label: "Won", Value: tools.FormatMoney(r.WonValue)},
		},
	}
	for _, s := range r.Stages {
		block.Rows = append(block.Rows, []string{s.Stage, strconv.Itoa(s.Count), tools.FormatMoney(s.Total)})
	}
	return block
}

// due describes a due date relative to today.
func (b *Builder) due(d time.Time, status string) string {
	now := b.clock.Now().In(d.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.Location())
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())

	switch days := int(day.Sub(today).Hours() / 24); {
	case days < 0 && status != datatypes.TaskStatusCompleted:
		return "overdue since " + d.Format("Jan 2")
	case days == 0:
		return "due today"
	case days == 1:
		return "due tomorrow"
	default:
		return "due " + d.Format("Jan 2")
	}
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func article(t datatypes.EntityType) string {
	if t == datatypes.EntityOpportunity {
		return "an opportunity"
	}
	return "a " + string(t)
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
