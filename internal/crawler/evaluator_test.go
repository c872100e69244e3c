package crawler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

func controls(n int, label string, typ ControlType) []Control {
	out := make([]Control, n)
	for i := range out {
		out[i] = Control{Label: fmt.Sprintf("%s %d", label, i), Type: typ}
	}
	return out
}

func TestEvaluator(t *testing.T) {
	ev, err := NewEvaluator(config.EvaluatorConfig{})
	require.NoError(t, err)

	tests := []struct {
		name string
		obs  Observation
		want EvalState
	}{
		{"privacy path at depth zero", Observation{CanonicalURL: origin + "/privacy"}, StateSuccess},
		{"settings path", Observation{CanonicalURL: origin + "/settings"}, StateSuccess},
		{"singular setting path", Observation{CanonicalURL: origin + "/account/setting"}, StateSuccess},
		{"data and privacy path", Observation{CanonicalURL: origin + "/data-and-privacy/overview"}, StateSuccess},
		{"settings prefix is not a match", Observation{CanonicalURL: origin + "/settingsx"}, StateSearching},
		{"policy url never succeeds", Observation{CanonicalURL: origin + "/legal/privacy", Clicks: 2, Controls: controls(9, "Share data", ControlToggle)}, StateSearching},
		{"privacy policy path", Observation{CanonicalURL: origin + "/privacy-policy", Clicks: 1, Headings: []string{"Privacy settings"}}, StateSearching},
		{"heading ignored at depth zero", Observation{CanonicalURL: origin + "/home", Headings: []string{"Privacy settings"}}, StateSearching},
		{"controls ignored at depth zero", Observation{CanonicalURL: origin + "/home", Controls: controls(9, "Share data", ControlToggle)}, StateSearching},
		{"heading after a click", Observation{CanonicalURL: origin + "/home", Clicks: 1, Headings: []string{"Data & Privacy"}}, StateSuccess},
		{"denied heading", Observation{CanonicalURL: origin + "/home", Clicks: 1, Headings: []string{"Privacy Policy settings"}}, StateSearching},
		{"strong control count", Observation{CanonicalURL: origin + "/home", Clicks: 1, Controls: controls(8, "Dark mode", ControlToggle)}, StateSuccess},
		{"weak count with privacy label", Observation{CanonicalURL: origin + "/home", Clicks: 1, Controls: controls(4, "Share data", ControlCheckbox)}, StateSuccess},
		{"weak count without privacy label", Observation{CanonicalURL: origin + "/home", Clicks: 1, Controls: controls(4, "Dark mode", ControlCheckbox)}, StateSearching},
		{"too few privacy controls", Observation{CanonicalURL: origin + "/home", Clicks: 1, Controls: controls(3, "Share data", ControlToggle)}, StateSearching},
		{"button links do not count", Observation{CanonicalURL: origin + "/home", Clicks: 1, Controls: controls(9, "Download data", ControlButtonLink)}, StateSearching},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.Evaluate(tt.obs).State)
		})
	}
}

func TestEvaluator_Reasons(t *testing.T) {
	ev, err := NewEvaluator(config.EvaluatorConfig{})
	require.NoError(t, err)

	assert.Equal(t, "url pattern", ev.Evaluate(Observation{CanonicalURL: origin + "/privacy"}).Reason)
	assert.Equal(t, `heading "Privacy settings"`, ev.Evaluate(Observation{
		CanonicalURL: origin + "/x", Clicks: 1, Headings: []string{"Privacy settings"},
	}).Reason)
}

func TestEvaluator_Config(t *testing.T) {
	_, err := NewEvaluator(config.EvaluatorConfig{URLPatterns: []string{"(unclosed"}})
	assert.Error(t, err)

	ev, err := NewEvaluator(config.EvaluatorConfig{
		StrongControlThreshold: 2,
		URLPatterns:            []string{`/preferences$`},
		Headings:               []string{"Your choices"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, ev.Evaluate(Observation{CanonicalURL: origin + "/preferences"}).State)
	assert.Equal(t, StateSearching, ev.Evaluate(Observation{CanonicalURL: origin + "/privacy"}).State)
	assert.Equal(t, StateSuccess, ev.Evaluate(Observation{CanonicalURL: origin + "/x", Clicks: 1, Headings: []string{"YOUR CHOICES"}}).State)
	assert.Equal(t, StateSuccess, ev.Evaluate(Observation{CanonicalURL: origin + "/x", Clicks: 1, Controls: controls(2, "Dark mode", ControlToggle)}).State)
}
