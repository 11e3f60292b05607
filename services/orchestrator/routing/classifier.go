// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"regexp"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// FallbackTool handles messages no rule recognizes.
const FallbackTool = "general"

// fallbackConfidence is reported when nothing matched.
const fallbackConfidence = 0.3

// Classification is a classifier's verdict on one message.
type Classification struct {
	// Intent is set for special intents. For tool intents the router takes
	// it from the tool's spec when empty.
	Intent     datatypes.Intent
	Tool       string
	Confidence float64

	// Args are arguments the classifier extracted itself. Rule
	// classification leaves them empty.
	Args map[string]any

	// Target overrides the entity phrase read off the message.
	Target string

	// Source names the classifier that produced the verdict.
	Source string
}

// Classifier assigns intent, tool and confidence to a message.
type Classifier interface {
	Classify(ctx context.Context, message string, accumulated datatypes.AccumulatedContext) (Classification, error)
}

// Rule is one weighted pattern. The highest matching weight wins; on equal
// weights the earlier rule wins.
type Rule struct {
	Tool    string
	Intent  datatypes.Intent
	Pattern *regexp.Regexp
	Weight  float64
}

// RuleClassifier is the deterministic default classifier.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier over rules. Nil rules use
// DefaultRules.
func NewRuleClassifier(rules []Rule) *RuleClassifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleClassifier{rules: rules}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(_ context.Context, message string, _ datatypes.AccumulatedContext) (Classification, error) {
	msg := normalizeMessage(message)

	best := Classification{Intent: datatypes.IntentGeneral, Tool: FallbackTool, Confidence: fallbackConfidence, Source: "rules"}
	matched := false
	for _, r := range c.rules {
		if !r.Pattern.MatchString(msg) {
			continue
		}
		if !matched || r.Weight > best.Confidence {
			best = Classification{Intent: r.Intent, Tool: r.Tool, Confidence: r.Weight, Source: "rules"}
			matched = true
		}
	}
	return best, nil
}

func rule(tool string, weight float64, pattern string) Rule {
	return Rule{Tool: tool, Pattern: regexp.MustCompile(pattern), Weight: weight}
}

func special(intent datatypes.Intent, weight float64, pattern string) Rule {
	return Rule{Intent: intent, Pattern: regexp.MustCompile(pattern), Weight: weight}
}

const taskNouns = `tasks?|reviews?|calls?|meetings?|follow[- ]?ups?|to-?dos?`

// DefaultRules returns the built-in rule set. Patterns run against the
// lower-cased, whitespace-collapsed message.
func DefaultRules() []Rule {
	return []Rule{
		special(datatypes.IntentUndo, 0.95, `^(please )?(undo|revert|take (that|it) back)\b`),
		special(datatypes.IntentConfirm, 0.9, `^(yes|yep|yeah|confirm(ed)?|go ahead|proceed|approved?|do it)(\s*[,!.]?\s*(confirm|proceed|do it|go ahead|please))?[.!]*$`),
		special(datatypes.IntentCancel, 0.9, `^(no|nope|cancel( that| it)?|never ?mind|abort|stop|forget it|don'?t)(\s*[,!.]?\s*(cancel|stop|don'?t|do not))?[.!]*$`),

		rule("help", 0.9, `^(help|what can you do|how do i|how does this work)\b|\bhelp( me)?$`),
		rule("create_opportunity", 0.9, `\b(create|add|new|log|open)\b.*\b(opportunity|deal)\b`),
		rule("delete_client", 0.9, `\b(delete|remove)\b.*\bclient\b`),
		rule("export_clients", 0.9, `\b(export|download)\b`),
		rule("send_client_email", 0.85, `\b(e-?mail|send (a |an )?(note|message|email))\b`),
		rule("schedule_followup", 0.85, `\b(schedule|set up|book|plan)\b.*\bfollow[- ]?up\b|^follow[- ]?up with\b`),
		rule("bulk_update_tasks", 0.85, `\b(mark|set|move|change|update|complete|close)\b.*\b(all|every|them|those)\b`),
		rule("delete_task", 0.85, `\b(delete|remove|drop)\b.*\b(`+taskNouns+`)\b`),
		rule("create_task", 0.85, `\b(create|add|new|make)\b.*\b(task|to-?do|reminder|review|call|meeting)\b|^remind me\b`),
		rule("update_client", 0.85, `\b(update|change|set)\b.*\b(email|phone|segment|notes?|status)\b.*\bclient\b|\b(update|change|set)\b.*\b(email|phone|segment|notes?)\b`),
		rule("summarize_client", 0.85, `\b(summari[sz]e|summary|overview|brief me|catch me up)\b`),
		rule("pipeline_report", 0.85, `\b(pipeline|forecast)\b`),
		rule("list_tasks", 0.85, `\b(show|list|what|which|any|see|view|get)\b.*\b(`+taskNouns+`)\b`),
		rule("get_task", 0.82, `\btask\b.*\b(details|info)\b`),
		rule("complete_task", 0.8, `\b(complete|finish|close out)\b|\bmark\b.*\b(done|complete|completed|finished)\b`),
		rule("list_opportunities", 0.8, `\b(opportunit(y|ies)|deals?)\b`),
		rule("get_client", 0.8, `\b(portfolio|profile|details|contact info|account)\b`),
		rule("search_clients", 0.8, `\b(find|search|look ?up|who (is|are))\b|\bclients\b`),
		rule("update_task", 0.75, `\b(update|change|set|move|reschedule|push|rename)\b.*\b(`+taskNouns+`|priority|due)\b|\breschedule\b`),
		rule("get_client", 0.75, `\b(show|open|pull up|tell me about)\b.*\bclient\b`),
		rule("list_tasks", 0.7, `\b(`+taskNouns+`|agenda|overdue)\b`),
	}
}

var _ Classifier = (*RuleClassifier)(nil)
