// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

var stageParam = datatypes.ToolParam{
	Name: "stage", Type: datatypes.ParamEnum, Enum: datatypes.OpportunityStages,
	Description: "Pipeline stage.",
}

// =============================================================================
// list_opportunities
// =============================================================================

type listOpportunities struct{ store workspace.Store }

func (listOpportunities) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "list_opportunities",
		Description: "List opportunities, optionally for one client or stage.",
		Intent:      datatypes.IntentRead,
		EntityType:  datatypes.EntityOpportunity,
		Params:      []datatypes.ToolParam{clientRefParam, stageParam},
	}
}

func (t listOpportunities) Execute(ctx context.Context, call Call) (Outcome, error) {
	opps, err := t.store.ListOpportunities(ctx, workspace.OpportunityFilter{
		ClientID: call.Args.String("client_id"),
		Stage:    call.Args.String("stage"),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("list opportunities: %w", err)
	}

	refs := make([]datatypes.EntityRef, 0, min(len(opps), datatypes.MaxRecentEntities))
	total := 0.0
	for i, o := range opps {
		total += o.Amount
		if i < datatypes.MaxRecentEntities {
			refs = append(refs, o.Ref())
		}
	}
	msg := fmt.Sprintf("Found %s worth %s.", plural(len(opps), "opportunity"), FormatMoney(total))
	if len(opps) == 0 {
		msg = "No opportunities matched."
	}
	return Outcome{Data: opps, RenderAs: datatypes.RenderTable, Message: msg, Entities: refs}, nil
}

// =============================================================================
// create_opportunity
// =============================================================================

type createOpportunity struct{ store workspace.Store }

func (createOpportunity) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "create_opportunity",
		Description: "Add an opportunity to the pipeline.",
		Intent:      datatypes.IntentCreate,
		EntityType:  datatypes.EntityOpportunity,
		Params: []datatypes.ToolParam{
			{Name: "name", Type: datatypes.ParamString, Validate: "max=200", Description: "Opportunity name. Defaults to the client's name."},
			clientRefParam,
			{Name: "amount", Type: datatypes.ParamNumber, Validate: "gte=0", Description: "Expected value."},
			withDefault(stageParam, datatypes.StageProspect),
			{Name: "close_date", Type: datatypes.ParamDate, Description: "Expected close date."},
		},
		Mutating: true,
		Undoable: true,
	}
}

func (t createOpportunity) Execute(ctx context.Context, call Call) (Outcome, error) {
	amount, _ := call.Args.Float("amount")
	opp := datatypes.Opportunity{
		ID:        newEntityID("o"),
		Name:      call.Args.String("name"),
		ClientID:  call.Args.String("client_id"),
		Stage:     call.Args.String("stage"),
		Amount:    amount,
		CloseDate: call.Args.Time("close_date"),
	}
	refs := []datatypes.EntityRef{}
	if opp.ClientID != "" {
		c, err := t.store.GetClient(ctx, opp.ClientID)
		if err != nil {
			return Outcome{}, fmt.Errorf("client for new opportunity: %w", err)
		}
		refs = append(refs, c.Ref())
		if opp.Name == "" {
			opp.Name = c.Name + " opportunity"
		}
	}
	if opp.Name == "" {
		return Outcome{}, fmt.Errorf("%w: tell me what to call the opportunity or which client it's for", ErrInvalidArgument)
	}
	if err := t.store.SaveOpportunity(ctx, opp); err != nil {
		return Outcome{}, fmt.Errorf("create opportunity: %w", err)
	}
	saved, err := t.store.GetOpportunity(ctx, opp.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload opportunity: %w", err)
	}

	return Outcome{
		Data:     saved,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Added %q at %s.", saved.Name, FormatMoney(saved.Amount)),
		Entities: append([]datatypes.EntityRef{saved.Ref()}, refs...),
		Undo: &Reversal{
			Description: fmt.Sprintf("create opportunity %q", saved.Name),
			Revert: func(ctx context.Context) error {
				return t.store.DeleteOpportunity(ctx, saved.ID)
			},
		},
	}, nil
}

// =============================================================================
// pipeline_report
// =============================================================================

type pipelineReport struct {
	store workspace.Store
	clock ttl.Clock
}

func (pipelineReport) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "pipeline_report",
		Description: "Report pipeline value by stage.",
		Intent:      datatypes.IntentReport,
		EntityType:  datatypes.EntityOpportunity,
		Params:      []datatypes.ToolParam{clientRefParam},
	}
}

func (t pipelineReport) Execute(ctx context.Context, call Call) (Outcome, error) {
	opps, err := t.store.ListOpportunities(ctx, workspace.OpportunityFilter{ClientID: call.Args.String("client_id")})
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline report: %w", err)
	}

	report := datatypes.PipelineReport{ReportedAt: t.clock.Now()}
	byStage := make(map[string]*datatypes.PipelineStage, len(datatypes.OpportunityStages))
	for _, stage := range datatypes.OpportunityStages {
		report.Stages = append(report.Stages, datatypes.PipelineStage{Stage: stage})
	}
	for i := range report.Stages {
		byStage[report.Stages[i].Stage] = &report.Stages[i]
	}
	for _, o := range opps {
		row, ok := byStage[o.Stage]
		if !ok {
			continue
		}
		row.Count++
		row.Total += o.Amount
		switch {
		case o.Stage == datatypes.StageWon:
			report.WonValue += o.Amount
		case isOpenStage(o.Stage):
			report.OpenValue += o.Amount
			report.OpenCount++
		}
	}

	return Outcome{
		Data:     report,
		RenderAs: datatypes.RenderReport,
		Message: fmt.Sprintf("%s open worth %s; %s won.",
			plural(report.OpenCount, "opportunity"), FormatMoney(report.OpenValue), FormatMoney(report.WonValue)),
	}, nil
}

func isOpenStage(stage string) bool {
	return stage != datatypes.StageWon && stage != datatypes.StageLost
}

// FormatMoney renders whole dollars with thousands separators.
func FormatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}
