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
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// dateLayout matches the date format the tool executor accepts.
const dateLayout = "2006-01-02"

// extraction is everything the router can read off a message without
// consulting the workspace.
type extraction struct {
	status      string
	setStatus   string
	kind        string
	priority    string
	setPriority string
	stage       string
	format      string
	amount      *float64
	limit       int
	date        string
	dueBefore   string
	title       string
	subject     string
	name        string
	email       string
	phone       string
	segment     string
	clientState string
	notes       string

	// target is the free phrase left after removing verbs, nouns, values
	// and stopwords. It names the entity the message is about.
	target string

	// forPhrase is the phrase after "for", used for secondary client
	// parameters.
	forPhrase string

	// ids are explicit entity ids written in the message.
	ids []string

	// pronoun is any reference word; personal only him, her, them, they.
	pronoun  bool
	personal bool
	plural   bool
}

var (
	setStatusRe   = regexp.MustCompile(`\b(?:as|to)\s+(pending|open|in[ -]progress|completed?|done|finished)\b`)
	statusRe      = regexp.MustCompile(`\b(pending|open|in[ -]progress|completed|done|finished)\b`)
	kindRe        = regexp.MustCompile(`\b(reviews?|calls?|meetings?|follow[- ]?ups?)\b`)
	setPriorityRe = regexp.MustCompile(`\bto\s+(high|low|normal)[- ]priority\b`)
	priorityRe    = regexp.MustCompile(`\b(high|low|normal)[- ]priority\b|\b(urgent)\b`)
	stageRe       = regexp.MustCompile(`\b(prospects?|proposal|negotiation|won|lost)\b`)
	formatRe      = regexp.MustCompile(`\b(csv|json)\b`)
	amountRe      = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)\s*(k|m|million|thousand)?\b|\b(\d[\d,]*(?:\.\d+)?)\s*(k|m|million|thousand)\b`)
	limitRe       = regexp.MustCompile(`\b(?:top|first|limit)\s+(\d+)\b`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	inDaysRe      = regexp.MustCompile(`\bin\s+(\d+)\s+days?\b`)
	weekdayRe     = regexp.MustCompile(`\b(?:on\s+|next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDateRe     = regexp.MustCompile(`\b(?:due\s+)?(today|tomorrow|next week|this week|end of (?:the )?week|overdue)\b`)
	idRe          = regexp.MustCompile(`\b([cto]-[a-z0-9][a-z0-9-]*)\b`)
	forRe         = regexp.MustCompile(`\bfor\s+(.+?)(?:\s+(?:to|about|by|on|due|with|at)\b|$)`)
	aboutRe       = regexp.MustCompile(`(?i)\babout\s+(.+)$`)
	namedRe       = regexp.MustCompile(`(?i)\b(?:called|named)\s+"?([^"]+?)"?(?:\s+for\b|$)`)
	titleRe       = regexp.MustCompile(`(?i)^(?:please\s+)?(?:create|add|make|new)(?:\s+me)?(?:\s+an?)?(?:\s+new)?\s+(?:task|to-?do|reminder)(?:\s+(?:to|for|:))?\s*(.*)$|^(?:please\s+)?remind me to\s+(.*)$`)
	pronounRe     = regexp.MustCompile(`\b(it|that|this|them|those|these|him|her|they|this one|that one)\b`)
	personalRe    = regexp.MustCompile(`\b(him|her|them|they)\b`)
	pluralRe      = regexp.MustCompile(`\b(them|those|these|they)\b`)
	segmentWordRe = regexp.MustCompile(`\b(institutional|retail|private)\b`)
	possessiveRe  = regexp.MustCompile(`'s\b|’s\b`)
	emailRe       = regexp.MustCompile(`\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phoneRe       = regexp.MustCompile(`\+?\d[\d\s().-]{5,}\d`)
	segmentRe     = regexp.MustCompile(`\bsegment\s+(?:to\s+)?([a-z]+)\b`)
	clientStateRe = regexp.MustCompile(`\bstatus\s+(?:to\s+)?([a-z]+)\b`)
	notesRe       = regexp.MustCompile(`(?i)\bnotes?\s+(?:to\s+)?:?\s*(.+)$`)
	nonWordRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

var statusAliases = map[string]string{
	"pending":     "pending",
	"open":        "pending",
	"in progress": "in_progress",
	"in-progress": "in_progress",
	"complete":    "completed",
	"completed":   "completed",
	"done":        "completed",
	"finished":    "completed",
}

// stopwords never name an entity.
var stopwords = toSet(`a an the my me our your their his her its of for to with about on in at by from and or
please can could would will you i we us show list find search get open pull up tell display see view give
what which who whom is are was were be any all every some named called as new create add make delete remove
drop update change set mark move complete finish close summarize summarise summary overview brief catch
export download email e mail send note message schedule book plan follow followup client clients task tasks
review reviews call calls meeting meetings todo to do reminder remind opportunity opportunities deal deals
portfolio profile details detail info contact account priority due today tomorrow week next this that it
them those these him they one pending progress completed done finished high low normal urgent csv json
there here how much many does look looks like lookup rename reschedule push phone notes note segment status
stage prospect proposal negotiation won lost pipeline forecast name`)

func toSet(words string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		out[w] = struct{}{}
	}
	return out
}

// extract reads literal values and the target phrase from message.
func extract(message string, now time.Time) extraction {
	original := strings.TrimSpace(message)
	lower := normalizeMessage(original)
	var ex extraction

	rest := lower
	if m := setStatusRe.FindStringSubmatch(rest); m != nil {
		ex.setStatus = statusAliases[m[1]]
		rest = strings.Replace(rest, m[0], " ", 1)
	}
	if m := statusRe.FindStringSubmatch(rest); m != nil {
		ex.status = statusAliases[m[1]]
	}
	if m := kindRe.FindStringSubmatch(lower); m != nil {
		ex.kind = canonicalKind(m[1])
	}
	if m := setPriorityRe.FindStringSubmatch(lower); m != nil {
		ex.setPriority = m[1]
	}
	if m := priorityRe.FindStringSubmatch(lower); m != nil {
		if m[2] == "urgent" {
			ex.priority = "high"
		} else {
			ex.priority = m[1]
		}
	}
	if m := stageRe.FindStringSubmatch(lower); m != nil {
		ex.stage = strings.TrimSuffix(m[1], "s")
	}
	if m := formatRe.FindStringSubmatch(lower); m != nil {
		ex.format = m[1]
	}
	if m := limitRe.FindStringSubmatch(lower); m != nil {
		ex.limit, _ = strconv.Atoi(m[1])
	}
	ex.amount = parseAmount(lower)
	ex.date, ex.dueBefore = parseDates(lower, now)

	if m := titleRe.FindStringSubmatch(original); m != nil {
		title := m[1]
		if title == "" {
			title = m[2]
		}
		ex.title = capitalize(stripDatePhrases(title))
	}
	if m := aboutRe.FindStringSubmatch(original); m != nil {
		ex.subject = capitalize(strings.TrimRight(m[1], ".!? "))
	}
	if m := namedRe.FindStringSubmatch(original); m != nil {
		ex.name = strings.TrimSpace(m[1])
	}
	if m := emailRe.FindString(lower); m != "" {
		ex.email = m
	}
	if m := phoneRe.FindString(isoDateRe.ReplaceAllString(lower, " ")); m != "" {
		ex.phone = strings.TrimSpace(m)
	}
	if m := segmentRe.FindStringSubmatch(lower); m != nil {
		ex.segment = m[1]
	} else if m := segmentWordRe.FindStringSubmatch(lower); m != nil {
		ex.segment = m[1]
	}
	if m := clientStateRe.FindStringSubmatch(lower); m != nil {
		ex.clientState = m[1]
	}
	if m := notesRe.FindStringSubmatch(original); m != nil {
		ex.notes = strings.TrimSpace(m[1])
	}
	if m := forRe.FindStringSubmatch(lower); m != nil {
		ex.forPhrase = phrase(m[1])
	}
	for _, m := range idRe.FindAllStringSubmatch(lower, -1) {
		ex.ids = append(ex.ids, m[1])
	}

	undated := relDateRe.ReplaceAllString(lower, " ")
	ex.pronoun = pronounRe.MatchString(undated)
	ex.personal = personalRe.MatchString(undated)
	ex.plural = pluralRe.MatchString(undated)
	ex.target = targetPhrase(lower)
	return ex
}

// targetPhrase strips everything that is not part of an entity name.
func targetPhrase(lower string) string {
	s := lower
	for _, re := range []*regexp.Regexp{
		aboutRe, notesRe, emailRe, idRe, isoDateRe, amountRe, phoneRe,
		inDaysRe, weekdayRe, segmentRe, segmentWordRe, clientStateRe,
	} {
		s = re.ReplaceAllString(s, " ")
	}
	return phrase(s)
}

// phrase lowercases, drops possessives and stopwords, and joins the
// remaining tokens with single spaces.
func phrase(s string) string {
	s = possessiveRe.ReplaceAllString(strings.ToLower(s), "")
	var kept []string
	for _, tok := range tokens(s) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// tokens splits on anything that is not a letter or digit.
func tokens(s string) []string {
	return strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(s), " "))
}

func normalizeMessage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

func canonicalKind(word string) string {
	switch {
	case strings.HasPrefix(word, "review"):
		return "review"
	case strings.HasPrefix(word, "call"):
		return "call"
	case strings.HasPrefix(word, "meeting"):
		return "meeting"
	default:
		return "follow_up"
	}
}

func parseAmount(lower string) *float64 {
	m := amountRe.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	digits, unit := m[1], m[2]
	if digits == "" {
		digits, unit = m[3], m[4]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return nil
	}
	switch unit {
	case "k", "thousand":
		v *= 1e3
	case "m", "million":
		v *= 1e6
	}
	return &v
}

// parseDates returns a calendar date for "due"/"close" parameters and a
// cutoff for list filters.
func parseDates(lower string, now time.Time) (date, dueBefore string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	format := func(t time.Time) string { return t.Format(dateLayout) }

	if m := isoDateRe.FindStringSubmatch(lower); m != nil {
		return m[1], m[1]
	}
	if m := inDaysRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		d := today.AddDate(0, 0, n)
		return format(d), format(d.AddDate(0, 0, 1))
	}
	if m := relDateRe.FindStringSubmatch(lower); m != nil {
		switch m[1] {
		case "today":
			return format(today), format(today.AddDate(0, 0, 1))
		case "tomorrow":
			d := today.AddDate(0, 0, 1)
			return format(d), format(d.AddDate(0, 0, 1))
		case "next week":
			return format(today.AddDate(0, 0, 7)), format(today.AddDate(0, 0, 14))
		case "overdue":
			return "", format(today)
		default: // this week, end of week
			return format(today.AddDate(0, 0, 7)), format(today.AddDate(0, 0, 7))
		}
	}
	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		d := nextWeekday(today, m[1])
		return format(d), format(d.AddDate(0, 0, 1))
	}
	return "", ""
}

func nextWeekday(today time.Time, name string) time.Time {
	for i := 1; i <= 7; i++ {
		d := today.AddDate(0, 0, i)
		if strings.EqualFold(d.Weekday().String(), name) {
			return d
		}
	}
	return today
}

func stripDatePhrases(s string) string {
	lower := strings.ToLower(s)
	for _, re := range []*regexp.Regexp{relDateRe, inDaysRe, weekdayRe, isoDateRe} {
		if loc := re.FindStringIndex(lower); loc != nil {
			s = s[:loc[0]] + s[loc[1]:]
			lower = lower[:loc[0]] + lower[loc[1]:]
		}
	}
	return strings.Join(strings.Fields(strings.TrimRight(s, ".!? ")), " ")
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
