// Package categorize assigns course labels to items from rules, provider
// course codes and free-text heuristics. Every function is pure.
package categorize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shrutihegde1/study-buddy/internal/items"
)

// Target is the part of an item that rules are evaluated against.
type Target struct {
	Title    string
	SourceID string
}

// CodeMaps carries provider metadata gathered during a fetch.
type CodeMaps struct {
	// CourseCodes maps lowercased course codes (e.g. "sci11200b") to labels.
	CourseCodes map[string]string
	// ContextCodes maps provider context codes (e.g. "course_42") to labels.
	ContextCodes map[string]string
}

const minContainedCodeLength = 4

var (
	bracketPattern   = regexp.MustCompile(`\[([^\[\]]+)\]`)
	parenPattern     = regexp.MustCompile(`\(([^()]+)\)`)
	courseCodeText   = regexp.MustCompile(`\b([A-Z]{2,5})\s?(\d{3}[A-Z]?)\b`)
	repeatedSpaces   = regexp.MustCompile(`\s{2,}`)
	dashedRemainders = regexp.MustCompile(`^[\s\-:|]+|[\s\-:|]+$`)
)

// ApplyRules returns the label of the first rule, in the given order, that
// matches the target. Context-code rules are skipped.
func ApplyRules(target Target, rules []items.Rule) (string, bool) {
	title := strings.ToLower(target.Title)
	for _, rule := range rules {
		value := rule.MatchValue
		if value == "" {
			continue
		}
		var matched bool
		switch rule.MatchType {
		case items.MatchTitleContains:
			matched = strings.Contains(title, strings.ToLower(value))
		case items.MatchTitlePrefix:
			matched = strings.HasPrefix(title, strings.ToLower(value))
		case items.MatchSourceIDPrefix:
			matched = target.SourceID != "" && strings.HasPrefix(target.SourceID, value)
		}
		if matched {
			return rule.CourseLabel, true
		}
	}
	return "", false
}

// ResolveContextCode looks up a context code among the context_code rules.
func ResolveContextCode(code string, rules []items.Rule) (string, bool) {
	if code == "" {
		return "", false
	}
	for _, rule := range rules {
		if rule.MatchType == items.MatchContextCode && rule.MatchValue == code {
			return rule.CourseLabel, true
		}
	}
	return "", false
}

// ResolveFromTitleCodes finds a bracketed, then parenthesized, course code in
// the title. On a hit it returns the label and the title with the code
// removed. Codes of at least four characters contained anywhere in the title
// are a last resort and leave the title untouched.
func ResolveFromTitleCodes(title string, courseCodes map[string]string) (string, string, bool) {
	if len(courseCodes) == 0 || strings.TrimSpace(title) == "" {
		return "", title, false
	}
	for _, pattern := range []*regexp.Regexp{bracketPattern, parenPattern} {
		for _, match := range pattern.FindAllStringSubmatchIndex(title, -1) {
			code := strings.ToLower(strings.TrimSpace(title[match[2]:match[3]]))
			label, ok := courseCodes[code]
			if !ok || label == "" {
				continue
			}
			return label, cleanTitle(title[:match[0]] + " " + title[match[1]:]), true
		}
	}

	lowered := strings.ToLower(title)
	for _, code := range sortedCodes(courseCodes) {
		if len(code) < minContainedCodeLength {
			continue
		}
		if strings.Contains(lowered, code) {
			return courseCodes[code], title, true
		}
	}
	return "", title, false
}

// sortedCodes orders codes longest first so "bio1012" wins over "bio101".
func sortedCodes(courseCodes map[string]string) []string {
	codes := make([]string, 0, len(courseCodes))
	for code, label := range courseCodes {
		if label != "" {
			codes = append(codes, code)
		}
	}
	sort.Slice(codes, func(i, j int) bool {
		if len(codes[i]) != len(codes[j]) {
			return len(codes[i]) > len(codes[j])
		}
		return codes[i] < codes[j]
	})
	return codes
}

func cleanTitle(title string) string {
	collapsed := repeatedSpaces.ReplaceAllString(strings.TrimSpace(title), " ")
	return dashedRemainders.ReplaceAllString(collapsed, "")
}

// InferCourseFromText recognises codes such as "CS 201" or "BIO101A" and
// returns them as "SUBJ NNN".
func InferCourseFromText(text string) (string, bool) {
	match := courseCodeText.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[1] + " " + match[2], true
}

// Enrich fills in a missing course label, first match wins: provider codes,
// explicit rules, then the text heuristic. It reports whether a label was set.
func Enrich(item *items.NormalizedItem, maps CodeMaps, rules []items.Rule) bool {
	if item == nil || strings.TrimSpace(item.CourseLabel) != "" {
		return false
	}

	if item.ContextCode != "" {
		if label, ok := maps.ContextCodes[item.ContextCode]; ok && label != "" {
			item.CourseLabel = label
			return true
		}
		if label, ok := ResolveContextCode(item.ContextCode, rules); ok {
			item.CourseLabel = label
			return true
		}
	}
	if label, cleaned, ok := ResolveFromTitleCodes(item.Title, maps.CourseCodes); ok {
		item.CourseLabel = label
		if cleaned != "" {
			item.Title = cleaned
		}
		return true
	}
	if label, ok := ApplyRules(Target{Title: item.Title, SourceID: item.SourceID}, rules); ok {
		item.CourseLabel = label
		return true
	}
	if label, ok := InferCourseFromText(item.Title); ok {
		item.CourseLabel = label
		return true
	}
	return false
}

// ResolveStored labels an already persisted item without touching its title.
// The retroactive pass uses it after new rules have been written.
func ResolveStored(item items.Item, maps CodeMaps, rules []items.Rule) (string, bool) {
	if item.CourseLabel != "" {
		return "", false
	}
	candidate := items.NormalizedItem{
		Title:       item.Title,
		SourceID:    item.ExternalID(),
		ContextCode: item.ContextCode,
	}
	if !Enrich(&candidate, maps, rules) {
		return "", false
	}
	return candidate.CourseLabel, true
}

// CategorizeItems proposes labels for unlabeled items without changing them.
// The result maps item id to suggested label.
func CategorizeItems(stored []items.Item, rules []items.Rule) map[string]string {
	suggestions := make(map[string]string)
	for _, item := range stored {
		if item.CourseLabel != "" {
			continue
		}
		if label, ok := ResolveContextCode(item.ContextCode, rules); ok {
			suggestions[item.ID] = label
			continue
		}
		if label, ok := ApplyRules(Target{Title: item.Title, SourceID: item.ExternalID()}, rules); ok {
			suggestions[item.ID] = label
			continue
		}
		if label, ok := InferCourseFromText(item.Title); ok {
			suggestions[item.ID] = label
		}
	}
	return suggestions
}
