// internal/llmclient/classifier.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoAPIKey is returned when a provider is configured without credentials.
var ErrNoAPIKey = errors.New("API key is required")

// Labels a classifier may return.
const (
	LabelPrivacySettings = "privacy_settings"
	LabelSettings        = "settings"
	LabelOther           = "other"
)

// maxPromptText bounds the page text sent to the model.
const maxPromptText = 6000

// Classification is a model verdict on a piece of page text.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// IsSettings reports whether the label names a settings surface.
func (c Classification) IsSettings() bool {
	return c.Label == LabelPrivacySettings || c.Label == LabelSettings
}

// Classifier labels page text. Failures are errors; callers treat them as
// "no classification".
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// ControlCategorizer places a single settings control into one of the given
// categories. The returned Label is a member of categories or LabelOther.
type ControlCategorizer interface {
	Categorize(ctx context.Context, label string, categories []string) (Classification, error)
}

// ErrCategorizeUnsupported is returned by wrappers whose provider cannot categorize.
var ErrCategorizeUnsupported = errors.New("provider does not categorize controls")

const systemPrompt = `You label web pages for a privacy research crawler.
Given the visible text of a page, decide whether it is the account's privacy settings surface.
Respond with JSON only: {"label": "privacy_settings" | "settings" | "other", "confidence": 0.0-1.0}.
"privacy_settings" means the page exposes privacy or data controls (toggles, visibility, retention, permissions).
"settings" means a general settings page without privacy controls.
"other" covers everything else, including privacy policies, legal text and help articles.`

const categoryPrompt = `You sort the controls of a privacy settings page for a privacy research crawler.
Given the label of one control and a list of allowed categories, pick the single category that fits best.
Respond with JSON only: {"label": "<one allowed category>" | "other", "confidence": 0.0-1.0}.
Use "other" when no category fits the control.`

// maxControlLabel bounds the control label sent to the model.
const maxControlLabel = 400

// truncate cuts text to at most limit bytes on a rune boundary.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func buildUserPrompt(text string) string {
	return "Page text:\n" + truncate(strings.TrimSpace(text), maxPromptText)
}

func buildCategoryPrompt(label string, categories []string) string {
	return "Allowed categories: " + strings.Join(categories, ", ") +
		"\nControl label:\n" + truncate(strings.TrimSpace(label), maxControlLabel)
}

// decodeReply decodes a model reply. Code fences around the JSON are tolerated.
func decodeReply(reply string) (Classification, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var c Classification
	if err := json.Unmarshal([]byte(reply), &c); err != nil {
		return Classification{}, fmt.Errorf("failed to decode classification %q: %w", reply, err)
	}
	c.Label = strings.ToLower(strings.TrimSpace(c.Label))
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c, nil
}

func parseClassification(reply string) (Classification, error) {
	c, err := decodeReply(reply)
	if err != nil {
		return Classification{}, err
	}
	switch c.Label {
	case LabelPrivacySettings, LabelSettings, LabelOther:
	default:
		return Classification{}, fmt.Errorf("unknown classification label %q", c.Label)
	}
	return c, nil
}

// parseCategory decodes a categorization reply and checks the label against
// the categories that were offered.
func parseCategory(reply string, categories []string) (Classification, error) {
	c, err := decodeReply(reply)
	if err != nil {
		return Classification{}, err
	}
	if c.Label == LabelOther {
		return c, nil
	}
	for _, cat := range categories {
		if strings.EqualFold(c.Label, cat) {
			c.Label = cat
			return c, nil
		}
	}
	return Classification{}, fmt.Errorf("category %q was not offered", c.Label)
}
