// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// SeedData is the YAML layout of a seed file.
//
//	clients:
//	  - id: c-acme
//	    name: Acme Holdings
//	tasks:
//	  - id: t-1
//	    title: Quarterly review
//	    client_id: c-acme
//	    kind: review
//	    status: pending
type SeedData struct {
	Clients       []datatypes.Client      `yaml:"clients"`
	Tasks         []datatypes.Task        `yaml:"tasks"`
	Opportunities []datatypes.Opportunity `yaml:"opportunities"`
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedData{}, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return SeedData{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// Seed writes every entity in data to store.
func Seed(ctx context.Context, store Store, data SeedData) error {
	for _, c := range data.Clients {
		if err := store.SaveClient(ctx, c); err != nil {
			return fmt.Errorf("seed client %s: %w", c.ID, err)
		}
	}
	for _, t := range data.Tasks {
		if t.Status == "" {
			t.Status = datatypes.TaskStatusPending
		}
		if t.Kind == "" {
			t.Kind = datatypes.TaskKindGeneral
		}
		if t.Priority == "" {
			t.Priority = "normal"
		}
		if err := store.SaveTask(ctx, t); err != nil {
			return fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}
	for _, o := range data.Opportunities {
		if o.Stage == "" {
			o.Stage = datatypes.StageProspect
		}
		if err := store.SaveOpportunity(ctx, o); err != nil {
			return fmt.Errorf("seed opportunity %s: %w", o.ID, err)
		}
	}
	return nil
}

// DefaultSeed returns a small demo book of business with due dates relative
// to now.
func DefaultSeed(now time.Time) SeedData {
	day := func(n int) *time.Time {
		d := time.Date(now.Year(), now.Month(), now.Day(), 17, 0, 0, 0, now.Location()).AddDate(0, 0, n)
		return &d
	}
	return SeedData{
		Clients: []datatypes.Client{
			{ID: "c-acme", Name: "Acme Holdings", Email: "ops@acme.example", Company: "Acme Holdings", Segment: "institutional", Status: "active", AUM: 12500000},
			{ID: "c-dchen", Name: "David Chen", Email: "david.chen@example.com", Segment: "private", Status: "active", AUM: 2400000},
			{ID: "c-lchen", Name: "Lisa Chen", Email: "lisa.chen@example.com", Segment: "private", Status: "active", AUM: 3100000},
			{ID: "c-mgarcia", Name: "Maria Garcia", Email: "maria@garcia.example", Segment: "private", Status: "active", AUM: 950000},
			{ID: "c-jsmith", Name: "John Smith", Email: "jsmith@example.com", Segment: "retail", Status: "prospect", AUM: 150000},
			{ID: "c-northwind", Name: "Northwind Trust", Email: "trust@northwind.example", Company: "Northwind Trust", Segment: "institutional", Status: "active", AUM: 48000000},
		},
		Tasks: []datatypes.Task{
			{ID: "t-review-acme", Title: "Quarterly review for Acme", ClientID: "c-acme", Kind: datatypes.TaskKindReview, Status: datatypes.TaskStatusPending, Priority: "high", DueDate: day(2)},
			{ID: "t-review-dchen", Title: "Annual portfolio review with David Chen", ClientID: "c-dchen", Kind: datatypes.TaskKindReview, Status: datatypes.TaskStatusPending, Priority: "normal", DueDate: day(5)},
			{ID: "t-review-northwind", Title: "Risk review for Northwind", ClientID: "c-northwind", Kind: datatypes.TaskKindReview, Status: datatypes.TaskStatusCompleted, Priority: "normal", DueDate: day(-3)},
			{ID: "t-call-garcia", Title: "Call Maria Garcia about rebalancing", ClientID: "c-mgarcia", Kind: datatypes.TaskKindCall, Status: datatypes.TaskStatusPending, Priority: "normal", DueDate: day(1)},
			{ID: "t-meeting-lchen", Title: "Estate planning meeting with Lisa Chen", ClientID: "c-lchen", Kind: datatypes.TaskKindMeeting, Status: datatypes.TaskStatusInProgress, Priority: "high", DueDate: day(3)},
			{ID: "t-followup-smith", Title: "Follow up with John Smith", ClientID: "c-jsmith", Kind: datatypes.TaskKindFollowUp, Status: datatypes.TaskStatusPending, Priority: "low"},
		},
		Opportunities: []datatypes.Opportunity{
			{ID: "o-acme-treasury", Name: "Acme treasury mandate", ClientID: "c-acme", Stage: datatypes.StageNegotiation, Amount: 5000000, CloseDate: day(30)},
			{ID: "o-dchen-529", Name: "Chen family 529 plan", ClientID: "c-dchen", Stage: datatypes.StageProposal, Amount: 250000, CloseDate: day(14)},
			{ID: "o-smith-ira", Name: "Smith IRA rollover", ClientID: "c-jsmith", Stage: datatypes.StageProspect, Amount: 120000},
			{ID: "o-northwind-esg", Name: "Northwind ESG sleeve", ClientID: "c-northwind", Stage: datatypes.StageWon, Amount: 8000000, CloseDate: day(-10)},
		},
	}
}
