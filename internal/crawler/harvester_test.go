package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

const settingsPage = `
	<h1>Privacy</h1>
	<div role="switch" aria-checked="true" aria-label="Allow participants to record"></div>
	<input type="checkbox" id="ads" data-sc-checked="false" checked><label for="ads">Use my data for personalized ads</label>
	<div role="radiogroup" aria-label="Profile visibility">
		<label><input type="radio" name="vis" value="public" checked> Public</label>
	</div>
	<select aria-label="Data retention"><option value="30">30 days</option><option value="90" selected>90 days</option></select>
	<span class="toggle on" aria-label="Camera access"></span>
	<label class="switch"><input type="checkbox" aria-label="Cloud recording" checked></label>
	<button aria-pressed="false">Dark mode</button>
	<a href="/download">Download your data</a>
	<a href="/account/delete">Delete your data</a>
	<input type="checkbox" aria-label="Hidden tracking" style="display:none">`

func TestHarvester_Scan(t *testing.T) {
	h := NewHarvester(config.HarvesterConfig{}, nil)
	snap := mustSnapshot(origin+"/settings", htmlDoc(settingsPage))

	got := h.Scan(snap)
	require.Len(t, got, 7)

	type row struct {
		label string
		typ   ControlType
		state string
	}
	var rows []row
	for _, c := range got {
		rows = append(rows, row{c.Label, c.Type, c.State})
		assert.Equal(t, origin+"/settings", c.URL)
		assert.NotEmpty(t, c.Selector)
		assert.NotNil(t, snap.FindLocator(c.Selector))
		assert.Empty(t, c.Categories)
	}
	assert.Equal(t, []row{
		{"Allow participants to record", ControlToggle, "on"},
		{"Use my data for personalized ads", ControlCheckbox, "off"},
		{"Public", ControlRadio, "on"},
		{"Data retention", ControlSelect, "90"},
		{"Camera access", ControlToggle, "on"},
		{"Cloud recording", ControlCheckbox, "on"},
		{"Dark mode", ControlToggle, "off"},
	}, rows)
}

func TestHarvester_Harvest(t *testing.T) {
	h := NewHarvester(config.HarvesterConfig{}, NewDenylist(nil))
	snap := mustSnapshot(origin+"/settings", htmlDoc(settingsPage))

	got := h.Harvest(snap)
	require.Len(t, got, 6)
	assert.Equal(t, []string{
		"Allow participants to record",
		"Use my data for personalized ads",
		"Data retention",
		"Camera access",
		"Cloud recording",
		"Download your data",
	}, controlLabels(got))

	assert.Equal(t, []string{"permissions", "recording"}, got[0].Categories)
	assert.Contains(t, got[2].Categories, "retention")
	assert.Equal(t, ControlButtonLink, got[5].Type)
	assert.Empty(t, got[5].State)
}

func TestHarvester_IncludeAll(t *testing.T) {
	h := NewHarvester(config.HarvesterConfig{IncludeAll: true}, nil)
	snap := mustSnapshot(origin+"/settings", htmlDoc(settingsPage))

	assert.Len(t, h.Harvest(snap), 8)
}

func TestHarvester_EmptyPage(t *testing.T) {
	h := NewHarvester(config.HarvesterConfig{}, nil)
	got := h.Harvest(mustSnapshot(origin+"/", htmlDoc(`<p>Nothing here</p>`)))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHarvester_LabelSources(t *testing.T) {
	h := NewHarvester(config.HarvesterConfig{MaxLabelLength: 20}, nil)
	snap := mustSnapshot(origin+"/", htmlDoc(`
		<span id="l1">Location</span><span id="l2">history</span>
		<input type="checkbox" aria-labelledby="l1 l2">
		<section><p>Let partners use my activity for measurement and analytics</p><input type="checkbox"></section>`))

	got := h.Scan(snap)
	require.Len(t, got, 2)
	assert.Equal(t, "Location history", got[0].Label)
	assert.Equal(t, "Let partners use my", got[1].Label)
}

func controlLabels(cs []Control) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label
	}
	return out
}
