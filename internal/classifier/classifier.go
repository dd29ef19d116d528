// Package classifier routes chat tasks to the cheapest capable model with
// pure keyword matching. It never calls a model itself, so routing adds no
// latency to the request path.
package classifier

import (
	"regexp"
	"strings"
)

// Tier is a capability/cost class mapped to a default model.
type Tier string

const (
	TierCheap     Tier = "gemini-2.0-flash"
	TierBalanced  Tier = "gemini-2.5-flash"
	TierReasoning Tier = "gemini-2.5-pro"
)

var (
	browserActionRe = []*regexp.Regexp{
		regexp.MustCompile(`\b(click|scroll|navigate|go to|open|type|enter|press|wait|sleep|close tab)\b`),
		regexp.MustCompile(`\b(extract|get text|find element|selector|css|xpath|screenshot)\b`),
		regexp.MustCompile(`\b(what.*page|what.*see|where am i|current page|take a)\b`),
		regexp.MustCompile(`\b(switch tab|list tabs|new tab|create tab)\b`),
		regexp.MustCompile(`\b(done|continue|resume|next|yes|ok|confirm)\b`),
	}
	queueQueryRe = []*regexp.Regexp{
		regexp.MustCompile(`\b(scheduled|schedule|queue|calendar)\b.*\b(post|posts|status|show|list|all)\b`),
		regexp.MustCompile(`\b(show|list|get|check)\b.*\b(scheduled|queue|posts|calendar)\b`),
	}
	reasoningRe = []*regexp.Regexp{
		regexp.MustCompile(`\b(strategy|plan|analyze.*and.*create|campaign|optimize)\b`),
		regexp.MustCompile(`\b(write.*comprehensive|compare.*and.*recommend|research)\b`),
		regexp.MustCompile(`\b(design|architect|evaluate|audit|review.*and)\b`),
		regexp.MustCompile(`\b(multi.?step|complex|workflow)\b`),
	}
)

// presentationTools are tools whose results the model only needs to present
// back to the user. A continuation after one of these needs no reasoning.
var presentationTools = map[string]struct{}{
	"click": {}, "navigate": {}, "scroll": {}, "type_text": {}, "wait": {},
	"extract_text": {}, "get_page_context": {}, "get_interactive_elements": {},
	"hover": {}, "press_key": {}, "hover_and_click": {}, "click_table_row": {},
	"create_tab": {}, "switch_tab": {}, "list_tabs": {}, "close_tab": {},
	"upload_file": {}, "select_option": {}, "get_video_ids": {},
	"check_page_health": {}, "wait_for_result": {},
	"schedule_post": {}, "get_scheduled_posts": {}, "content_calendar": {},
	"repurpose_content": {}, "hashtag_research": {}, "engagement_report": {},
	"competitor_watch": {}, "auto_reply": {}, "lead_capture": {},
	"campaign_tracker": {},
	"video_analytics": {}, "comment_manager": {}, "seo_optimizer": {},
	"thumbnail_test": {}, "community_post": {}, "revenue_report": {},
	"playlist_manager": {}, "upload_scheduler": {},
}

// SelectTier picks the cheapest tier capable of the task. Rules apply in
// order: browser-action or queue-status vocabulary routes cheap, a
// continuation after a presentation-only tool routes cheap, complex-reasoning
// vocabulary routes to the reasoning tier, everything else is balanced.
func SelectTier(message, lastToolName string) Tier {
	input := strings.ToLower(message + " " + lastToolName)
	for _, re := range browserActionRe {
		if re.MatchString(input) {
			return TierCheap
		}
	}
	for _, re := range queueQueryRe {
		if re.MatchString(input) {
			return TierCheap
		}
	}
	if _, ok := presentationTools[lastToolName]; ok && lastToolName != "" {
		return TierCheap
	}
	for _, re := range reasoningRe {
		if re.MatchString(input) {
			return TierReasoning
		}
	}
	return TierBalanced
}

// ResolveModel returns the model id for a tier, honoring the configured
// override for the cheap tier only (for accounts without 2.0-flash quota).
func ResolveModel(tier Tier, cheapOverride string) string {
	if cheapOverride != "" && tier == TierCheap {
		return cheapOverride
	}
	return string(tier)
}

// UseCompactPrompt reports whether the compact system prompt suffices.
// Only cheap-tier tool picking works without the full prompt.
func UseCompactPrompt(tier Tier) bool {
	return tier == TierCheap
}
