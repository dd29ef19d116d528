package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"socialbrain/internal/classifier"
)

func TestSelectTier(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		lastTool string
		want     classifier.Tier
	}{
		{"browser action", "click the submit button", "", classifier.TierCheap},
		{"navigation", "go to linkedin.com and open my feed", "", classifier.TierCheap},
		{"page question", "what does the current page look like", "", classifier.TierCheap},
		{"tab management", "switch tab to the analytics dashboard", "", classifier.TierCheap},
		{"short confirmation", "ok", "", classifier.TierCheap},
		{"queue query", "show me all scheduled posts", "", classifier.TierCheap},
		{"queue query reversed", "is the queue showing posts for tomorrow", "", classifier.TierCheap},
		{"tool continuation", "here is the tool result payload", "get_scheduled_posts", classifier.TierCheap},
		{"marketing continuation", "result attached", "engagement_report", classifier.TierCheap},
		{"strategy", "draft a content strategy for Q2", "", classifier.TierReasoning},
		{"campaign", "build a campaign across three platforms", "", classifier.TierReasoning},
		{"audit", "audit my posting cadence", "", classifier.TierReasoning},
		{"multi-step", "this is a multi-step workflow", "", classifier.TierReasoning},
		{"content creation", "write a caption about our new product", "", classifier.TierBalanced},
		{"general question", "how did my last video perform", "", classifier.TierBalanced},
		{"unknown tool continuation", "tool result", "some_custom_tool", classifier.TierBalanced},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifier.SelectTier(tc.message, tc.lastTool))
		})
	}
}

func TestActionVocabularyBeatsReasoning(t *testing.T) {
	// a message with both vocabularies routes cheap: rule order matters
	got := classifier.SelectTier("click the strategy tab", "")
	assert.Equal(t, classifier.TierCheap, got)
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "gemini-2.0-flash", classifier.ResolveModel(classifier.TierCheap, ""))
	assert.Equal(t, "gemini-2.5-flash", classifier.ResolveModel(classifier.TierCheap, "gemini-2.5-flash"))
	// override applies to the cheap tier only
	assert.Equal(t, "gemini-2.5-pro", classifier.ResolveModel(classifier.TierReasoning, "gemini-2.5-flash"))
}

func TestUseCompactPrompt(t *testing.T) {
	assert.True(t, classifier.UseCompactPrompt(classifier.TierCheap))
	assert.False(t, classifier.UseCompactPrompt(classifier.TierBalanced))
	assert.False(t, classifier.UseCompactPrompt(classifier.TierReasoning))
}
