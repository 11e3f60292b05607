// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing turns a free-text message into an execution plan.
//
// The router classifies the message, reads literal argument values off it,
// resolves entity references against the workspace and the accumulated
// conversation context, and decides whether the plan can run, needs
// clarification or disambiguation, or must be confirmed first.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the routing thresholds.
type Config struct {
	// HighConfidence is the lower bound of the high level.
	HighConfidence float64 `yaml:"high_confidence"`

	// MediumConfidence is the lower bound of the medium level.
	MediumConfidence float64 `yaml:"medium_confidence"`

	// MatchFloor is the minimum similarity for a fuzzy entity match.
	MatchFloor float64 `yaml:"match_floor"`

	// ClarifyLowConfidence asks the user to rephrase instead of running a
	// low-confidence plan.
	ClarifyLowConfidence bool `yaml:"clarify_low_confidence"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		HighConfidence:   0.75,
		MediumConfidence: 0.45,
		MatchFloor:       DefaultMatchFloor,
	}
}

// Level maps a confidence score to its level.
func (c Config) Level(confidence float64) datatypes.ConfidenceLevel {
	switch {
	case confidence >= c.HighConfidence:
		return datatypes.ConfidenceHigh
	case confidence >= c.MediumConfidence:
		return datatypes.ConfidenceMedium
	}
	return datatypes.ConfidenceLow
}

// Catalog is the tool schema source. *tools.Registry satisfies it.
type Catalog interface {
	Spec(name string) (datatypes.ToolSpec, bool)
	Specs() []datatypes.ToolSpec
}

// Deps are the router's collaborators. Catalog and Source are required.
type Deps struct {
	Classifier Classifier
	Catalog    Catalog
	Source     EntitySource
	Matcher    EntityMatcher
	Clock      ttl.Clock
	Metrics    *observability.Metrics
}

// =============================================================================
// Router
// =============================================================================

// Router builds execution plans.
//
// # Thread Safety
//
// Stateless between calls; safe for concurrent use when its collaborators
// are.
type Router struct {
	classifier Classifier
	catalog    Catalog
	source     EntitySource
	matcher    EntityMatcher
	clock      ttl.Clock
	metrics    *observability.Metrics
	cfg        Config
}

// NewRouter creates a router. Missing optional collaborators get defaults:
// the rule classifier, a fuzzy matcher at cfg.MatchFloor, the system clock.
func NewRouter(deps Deps, cfg Config) *Router {
	if deps.Catalog == nil {
		panic("routing.NewRouter: catalog must not be nil")
	}
	if deps.Source == nil {
		panic("routing.NewRouter: entity source must not be nil")
	}
	def := DefaultConfig()
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.MediumConfidence <= 0 {
		cfg.MediumConfidence = def.MediumConfidence
	}
	if cfg.MatchFloor <= 0 {
		cfg.MatchFloor = def.MatchFloor
	}
	if deps.Classifier == nil {
		deps.Classifier = NewRuleClassifier(nil)
	}
	if deps.Matcher == nil {
		deps.Matcher = NewFuzzyMatcher(cfg.MatchFloor)
	}
	if deps.Clock == nil {
		deps.Clock = ttl.NewSystemClock()
	}
	return &Router{
		classifier: deps.Classifier,
		catalog:    deps.Catalog,
		source:     deps.Source,
		matcher:    deps.Matcher,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		cfg:        cfg,
	}
}

// Route classifies message and builds its plan.
//
// # Description
//
// Special intents (confirm, cancel, undo) come back without a tool. When
// the orchestrator routes a confirm or cancel phrase it has already found
// nothing pending, so the result carries a prompt saying so.
//
// At most one of ClarificationNeeded and MultiMatch is set. Either one
// makes the plan non-executable and sets NeedsUserInput with the question
// in UserPrompt.
//
// # Outputs
//
// An error is returned only when the classifier or the entity source
// fails; everything the user can fix is reported in the result.
func (r *Router) Route(ctx context.Context, message string, acc datatypes.AccumulatedContext) (datatypes.RouteResult, error) {
	cls, err := r.classifier.Classify(ctx, message, acc)
	if err != nil {
		return datatypes.RouteResult{}, fmt.Errorf("classify: %w", err)
	}

	plan := datatypes.ExecutionPlan{
		Intent:          cls.Intent,
		Tool:            cls.Tool,
		Arguments:       map[string]any{},
		Confidence:      cls.Confidence,
		ConfidenceLevel: r.cfg.Level(cls.Confidence),
		OriginalMessage: message,
	}
	defer func() {
		r.metrics.RecordClassification(string(plan.Intent), string(plan.ConfidenceLevel))
	}()

	switch cls.Intent {
	case datatypes.IntentConfirm:
		plan.Tool = ""
		return datatypes.RouteResult{Plan: plan, UserPrompt: "There's nothing waiting for confirmation."}, nil
	case datatypes.IntentCancel:
		plan.Tool = ""
		return datatypes.RouteResult{Plan: plan, UserPrompt: "There's nothing to cancel."}, nil
	case datatypes.IntentUndo:
		plan.Tool = ""
		return datatypes.RouteResult{Plan: plan, ReadyForExecution: true}, nil
	}

	spec, ok := r.catalog.Spec(cls.Tool)
	if !ok {
		slog.Warn("Classifier chose an unknown tool, using fallback", "tool", cls.Tool, "source", cls.Source)
		spec, _ = r.catalog.Spec(FallbackTool)
		plan.Tool = FallbackTool
	}
	if plan.Intent == "" || !ok {
		plan.Intent = spec.Intent
	}
	if plan.Intent == "" {
		plan.Intent = datatypes.IntentGeneral
	}
	plan.EntityType = spec.EntityType

	if plan.ConfidenceLevel == datatypes.ConfidenceLow && r.cfg.ClarifyLowConfidence &&
		plan.Tool != FallbackTool && plan.Intent != datatypes.IntentHelp {
		return needsInput(plan, &datatypes.Clarification{
			Field:    "intent",
			Reason:   "low_confidence",
			Question: "I'm not sure what you'd like to do. Could you rephrase that?",
		}, nil), nil
	}

	res := resolution{
		router:     r,
		spec:       spec,
		acc:        acc,
		ex:         extract(message, r.clock.Now()),
		candidates: map[datatypes.EntityType][]Candidate{},
	}
	if cls.Target != "" {
		res.ex.target = phrase(cls.Target)
	}
	res.literals(plan.Arguments, message)
	for k, v := range cls.Args {
		// Underscore keys are internal markers set only after a confirmation.
		if strings.HasPrefix(k, "_") {
			continue
		}
		if p, ok := spec.Param(k); ok {
			if p.Entity != "" {
				if s, isStr := v.(string); isStr && s != "" {
					res.ex.ids = append(res.ex.ids, s)
				}
				continue
			}
			plan.Arguments[k] = v
		}
	}

	affected, clar, multi, err := res.entities(ctx, plan.Arguments)
	if err != nil {
		return datatypes.RouteResult{}, err
	}
	if clar != nil || multi != nil {
		return needsInput(plan, clar, multi), nil
	}
	if clar := missingRequired(spec, plan.Arguments); clar != nil {
		return needsInput(plan, clar, nil), nil
	}

	result := datatypes.RouteResult{Plan: plan, Affected: affected}
	if spec.RequiresConfirmation && !plan.Preconfirmed() {
		result.Plan.RequiresConfirmation = true
		result.ConfirmationMessage = confirmationMessage(spec, plan.Arguments, affected)
	}
	result.ReadyForExecution = result.Plan.Executable() && !result.Plan.RequiresConfirmation

	slog.Debug("Routed message",
		"tool", plan.Tool, "intent", plan.Intent, "confidence", plan.Confidence,
		"requires_confirmation", result.Plan.RequiresConfirmation)
	return result, nil
}

func needsInput(plan datatypes.ExecutionPlan, clar *datatypes.Clarification, multi *datatypes.MultiMatch) datatypes.RouteResult {
	res := datatypes.RouteResult{Plan: plan, NeedsUserInput: true}
	switch {
	case clar != nil:
		res.Plan.ClarificationNeeded = clar
		res.UserPrompt = clar.Question
	case multi != nil:
		res.Plan.MultiMatch = multi
		res.UserPrompt = multi.Reason + ". Which one do you mean?"
	}
	return res
}

// =============================================================================
// Argument resolution
// =============================================================================

var completeVerbRe = regexp.MustCompile(`\b(complete|close|finish)\b`)

// resolution carries the state of one Route call.
type resolution struct {
	router     *Router
	spec       datatypes.ToolSpec
	acc        datatypes.AccumulatedContext
	ex         extraction
	candidates map[datatypes.EntityType][]Candidate
}

// literals copies values read off the message into args for every
// non-entity parameter the tool declares.
func (res *resolution) literals(args map[string]any, message string) {
	ex := res.ex
	isUpdate := res.spec.Name == "update_task"

	for _, p := range res.spec.Params {
		if p.Entity != "" {
			continue
		}
		var v any
		switch p.Name {
		case "status":
			switch {
			case res.spec.EntityType == datatypes.EntityClient:
				v = ex.clientState
			case isUpdate:
				v = firstNonEmpty(ex.setStatus, ex.status)
			default:
				v = ex.status
			}
		case "set_status":
			v = ex.setStatus
			if ex.setStatus == "" && completeVerbRe.MatchString(normalizeMessage(message)) {
				v = datatypes.TaskStatusCompleted
			}
		case "priority":
			if isUpdate {
				v = firstNonEmpty(ex.setPriority, ex.priority)
			} else {
				v = ex.priority
			}
		case "set_priority":
			v = firstNonEmpty(ex.setPriority, ex.priority)
		case "kind":
			v = ex.kind
		case "stage":
			v = ex.stage
		case "format":
			v = ex.format
		case "amount":
			if ex.amount != nil {
				v = *ex.amount
			}
		case "limit":
			if ex.limit > 0 {
				v = ex.limit
			}
		case "due_date", "close_date":
			v = ex.date
		case "due_before":
			v = ex.dueBefore
		case "title":
			v = ex.title
		case "subject":
			v = ex.subject
		case "name":
			v = ex.name
		case "email":
			v = ex.email
		case "phone":
			v = ex.phone
		case "segment":
			v = ex.segment
		case "notes":
			v = ex.notes
		case "query":
			v = ex.target
		case "message":
			v = message
		case "topic":
			v = res.helpTopic(message)
		case "task_ids":
			if ids := res.taskIDs(); len(ids) > 0 {
				v = ids
			}
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		if v != nil {
			args[p.Name] = v
		}
	}
}

func (res *resolution) helpTopic(message string) string {
	lower := normalizeMessage(message)
	for _, spec := range res.router.catalog.Specs() {
		if spec.Name != "help" && (strings.Contains(lower, spec.Name) || strings.Contains(lower, strings.ReplaceAll(spec.Name, "_", " "))) {
			return spec.Name
		}
	}
	return ""
}

// taskIDs returns explicit task ids, or every recent task when the message
// refers to several things by pronoun.
func (res *resolution) taskIDs() []string {
	var ids []string
	for _, id := range res.ex.ids {
		if entityTypeOf(id) == datatypes.EntityTask {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 || !res.ex.plural {
		return ids
	}
	for _, e := range res.acc.RecentEntities {
		if e.Type == datatypes.EntityTask {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// entities resolves every entity parameter. It stops at the first
// parameter that needs the user.
func (res *resolution) entities(ctx context.Context, args map[string]any) (*datatypes.AffectedEntity, *datatypes.Clarification, *datatypes.MultiMatch, error) {
	var affected *datatypes.AffectedEntity

	primaryConsumes := false
	for _, p := range res.spec.Params {
		if p.Entity != "" && p.Entity == res.spec.EntityType {
			primaryConsumes = true
		}
	}

	for _, p := range res.spec.Params {
		if p.Entity == "" {
			continue
		}
		primary := p.Entity == res.spec.EntityType
		target := res.ex.target
		if !primary {
			target = res.ex.forPhrase
			if target == "" && !primaryConsumes {
				target = res.ex.target
			}
		}

		// A plural pronoun already spent on task_ids does not also pick a
		// client.
		refers := res.ex.pronoun
		if !primary {
			_, hasIDs := args["task_ids"]
			refers = res.ex.personal && !hasIDs
		}

		found, clar, multi, err := res.resolve(ctx, p, refers, target)
		if err != nil {
			return nil, nil, nil, err
		}
		if clar != nil || multi != nil {
			return nil, clar, multi, nil
		}
		if found == nil {
			continue
		}
		args[p.Name] = found.ID
		if primary || affected == nil {
			affected = found
		}
	}
	return affected, nil, nil, nil
}

// resolve finds the entity a parameter refers to. Order: an explicit id, a
// pronoun against recent entities, the target phrase through the matcher,
// then the focused id for required parameters.
func (res *resolution) resolve(ctx context.Context, p datatypes.ToolParam, refers bool, target string) (*datatypes.AffectedEntity, *datatypes.Clarification, *datatypes.MultiMatch, error) {
	candidates, err := res.candidatesFor(ctx, p.Entity)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, id := range res.ex.ids {
		if entityTypeOf(id) == p.Entity {
			return res.named(p.Entity, id, candidates), nil, nil, nil
		}
	}

	if target == "" && refers {
		for _, e := range res.acc.RecentEntities {
			if e.Type == p.Entity {
				return &datatypes.AffectedEntity{Type: e.Type, ID: e.ID, Name: e.Name}, nil, nil, nil
			}
		}
		if id := res.acc.FocusedID(p.Entity); id != "" {
			return res.named(p.Entity, id, candidates), nil, nil, nil
		}
	}

	if target != "" {
		matches := res.router.matcher.Match(target, candidates)
		switch {
		case len(matches) == 1:
			m := matches[0]
			return &datatypes.AffectedEntity{Type: p.Entity, ID: m.ID, Name: m.DisplayName}, nil, nil, nil
		case len(matches) > 1:
			return nil, nil, &datatypes.MultiMatch{
				EntityType: p.Entity,
				Matches:    matches,
				Reason:     fmt.Sprintf("Several %s match %q", pluralNoun(p.Entity), target),
			}, nil
		}
		if p.Required {
			return nil, &datatypes.Clarification{
				Field:    p.Name,
				Reason:   "not_found",
				Question: fmt.Sprintf("I couldn't find a %s matching %q. Which %s do you mean?", p.Entity, target, p.Entity),
			}, nil, nil
		}
		return nil, nil, nil, nil
	}

	if !p.Required {
		return nil, nil, nil, nil
	}
	if id := res.acc.FocusedID(p.Entity); id != "" {
		return res.named(p.Entity, id, candidates), nil, nil, nil
	}
	return nil, &datatypes.Clarification{
		Field:    p.Name,
		Reason:   "missing",
		Question: fmt.Sprintf("Which %s do you mean?", p.Entity),
	}, nil, nil
}

func (res *resolution) candidatesFor(ctx context.Context, entity datatypes.EntityType) ([]Candidate, error) {
	if c, ok := res.candidates[entity]; ok {
		return c, nil
	}
	c, err := res.router.source.Candidates(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", entity, err)
	}
	res.candidates[entity] = c
	return c, nil
}

// named attaches a display name to an id. Unknown ids pass through; the
// executor reports them as not found.
func (res *resolution) named(entity datatypes.EntityType, id string, candidates []Candidate) *datatypes.AffectedEntity {
	for _, c := range candidates {
		if c.ID == id {
			return &datatypes.AffectedEntity{Type: entity, ID: id, Name: c.Name}
		}
	}
	for _, e := range res.acc.RecentEntities {
		if e.ID == id {
			return &datatypes.AffectedEntity{Type: entity, ID: id, Name: e.Name}
		}
	}
	return &datatypes.AffectedEntity{Type: entity, ID: id}
}

// missingRequired reports the first required parameter that still has no
// value or default.
func missingRequired(spec datatypes.ToolSpec, args map[string]any) *datatypes.Clarification {
	for _, p := range spec.Params {
		if !p.Required || p.Default != nil {
			continue
		}
		if _, ok := args[p.Name]; ok {
			continue
		}
		clar := &datatypes.Clarification{Field: p.Name, Reason: "missing", Options: p.Enum}
		switch {
		case p.Name == "title":
			clar.Question = "What should the task say?"
		case len(p.Enum) > 0:
			clar.Question = fmt.Sprintf("Which %s? Options: %s.", humanize(p.Name), strings.Join(p.Enum, ", "))
		default:
			clar.Question = fmt.Sprintf("What %s should I use?", humanize(p.Name))
		}
		return clar
	}
	return nil
}

// =============================================================================
// Confirmation wording
// =============================================================================

const confirmSuffix = ` Reply "yes" to confirm or "cancel" to stop.`

func confirmationMessage(spec datatypes.ToolSpec, args map[string]any, affected *datatypes.AffectedEntity) string {
	name := "this item"
	if affected != nil {
		name = firstNonEmpty(affected.Name, affected.ID)
	}

	switch spec.Name {
	case "delete_client":
		return fmt.Sprintf("Are you sure you want to delete client %s? Their tasks and opportunities will be removed too.", name) + confirmSuffix
	case "delete_task":
		return fmt.Sprintf("Are you sure you want to delete the task %q?", name) + confirmSuffix
	case "send_client_email":
		subject, _ := args["subject"].(string)
		if subject == "" {
			if p, ok := spec.Param("subject"); ok {
				subject, _ = p.Default.(string)
			}
		}
		return fmt.Sprintf("Send an email to %s with the subject %q?", name, subject) + confirmSuffix
	case "bulk_update_tasks":
		return fmt.Sprintf("Are you sure you want to %s for %s?", bulkChange(args), bulkScope(args, affected)) + confirmSuffix
	}
	return fmt.Sprintf("Are you sure you want to run %s on %s?", humanize(spec.Name), name) + confirmSuffix
}

func bulkChange(args map[string]any) string {
	var parts []string
	if s, _ := args["set_status"].(string); s != "" {
		parts = append(parts, "set status to "+humanize(s))
	}
	if p, _ := args["set_priority"].(string); p != "" {
		parts = append(parts, "set priority to "+p)
	}
	if len(parts) == 0 {
		return "change"
	}
	return strings.Join(parts, " and ")
}

func bulkScope(args map[string]any, affected *datatypes.AffectedEntity) string {
	if ids, ok := args["task_ids"].([]string); ok && len(ids) > 0 {
		if len(ids) == 1 {
			return "1 task"
		}
		return fmt.Sprintf("%d tasks", len(ids))
	}
	scope := "all"
	if s, _ := args["status"].(string); s != "" {
		scope += " " + humanize(s)
	}
	if k, _ := args["kind"].(string); k != "" {
		scope += " " + humanize(k)
	}
	scope += " tasks"
	if affected != nil && affected.Type == datatypes.EntityClient {
		scope += " for " + firstNonEmpty(affected.Name, affected.ID)
	}
	return scope
}

// =============================================================================
// Helpers
// =============================================================================

func entityTypeOf(id string) datatypes.EntityType {
	switch {
	case strings.HasPrefix(id, "c-"):
		return datatypes.EntityClient
	case strings.HasPrefix(id, "t-"):
		return datatypes.EntityTask
	case strings.HasPrefix(id, "o-"):
		return datatypes.EntityOpportunity
	}
	return ""
}

func pluralNoun(t datatypes.EntityType) string {
	if t == datatypes.EntityOpportunity {
		return "opportunities"
	}
	return string(t) + "s"
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
