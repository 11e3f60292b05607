// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

// Task kinds.
const (
	TaskKindReview   = "review"
	TaskKindCall     = "call"
	TaskKindMeeting  = "meeting"
	TaskKindFollowUp = "follow_up"
	TaskKindGeneral  = "general"
)

// Opportunity stages.
const (
	StageProspect    = "prospect"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

// TaskStatuses lists valid task statuses.
var TaskStatuses = []string{TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted}

// TaskKinds lists valid task kinds.
var TaskKinds = []string{TaskKindReview, TaskKindCall, TaskKindMeeting, TaskKindFollowUp, TaskKindGeneral}

// TaskPriorities lists valid task priorities.
var TaskPriorities = []string{"low", "normal", "high"}

// OpportunityStages lists valid pipeline stages.
var OpportunityStages = []string{StageProspect, StageProposal, StageNegotiation, StageWon, StageLost}

// Client is an advisory client record.
type Client struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email,omitempty" yaml:"email"`
	Phone     string    `json:"phone,omitempty" yaml:"phone"`
	Company   string    `json:"company,omitempty" yaml:"company"`
	Segment   string    `json:"segment,omitempty" yaml:"segment"`
	Status    string    `json:"status,omitempty" yaml:"status"`
	AUM       float64   `json:"aum,omitempty" yaml:"aum"`
	Notes     string    `json:"notes,omitempty" yaml:"notes"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Ref returns the entity reference for c.
func (c Client) Ref() EntityRef {
	return EntityRef{ID: c.ID, Type: EntityClient, Name: c.Name}
}

// Task is a unit of advisor work, optionally tied to a client.
type Task struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	ClientID  string     `json:"clientId,omitempty" yaml:"client_id"`
	Kind      string     `json:"kind" yaml:"kind"`
	Status    string     `json:"status" yaml:"status"`
	Priority  string     `json:"priority" yaml:"priority"`
	DueDate   *time.Time `json:"dueDate,omitempty" yaml:"due_date"`
	CreatedAt time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"-"`
}

// Ref returns the entity reference for t.
func (t Task) Ref() EntityRef {
	return EntityRef{ID: t.ID, Type: EntityTask, Name: t.Title}
}

// Opportunity is a sales pipeline entry for a client.
type Opportunity struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	ClientID  string     `json:"clientId,omitempty" yaml:"client_id"`
	Stage     string     `json:"stage" yaml:"stage"`
	Amount    float64    `json:"amount" yaml:"amount"`
	CloseDate *time.Time `json:"closeDate,omitempty" yaml:"close_date"`
	CreatedAt time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"-"`
}

// Ref returns the entity reference for o.
func (o Opportunity) Ref() EntityRef {
	return EntityRef{ID: o.ID, Type: EntityOpportunity, Name: o.Name}
}

// ClientSummary is the data returned by summarize_client.
type ClientSummary struct {
	Client        Client        `json:"client"`
	OpenTasks     []Task        `json:"openTasks"`
	Opportunities []Opportunity `json:"opportunities"`
	PipelineValue float64       `json:"pipelineValue"`
}

// PipelineStage is one row of a pipeline report.
type PipelineStage struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// PipelineReport is the data returned by pipeline_report.
type PipelineReport struct {
	Stages     []PipelineStage `json:"stages"`
	OpenValue  float64         `json:"openValue"`
	WonValue   float64         `json:"wonValue"`
	OpenCount  int             `json:"openCount"`
	ReportedAt time.Time       `json:"reportedAt"`
}

// Export is the data returned by export_clients.
type Export struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Rows     int    `json:"rows"`
	Content  string `json:"content"`
}

// HelpTopic is one entry of the help tool's output.
type HelpTopic struct {
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Example     string `json:"example"`
}
