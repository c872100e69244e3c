package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsOf(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Label
	}
	return out
}

func TestExtract(t *testing.T) {
	snap := mustSnapshot(origin+"/", htmlDoc(`
		<nav><a href="/settings">Settings</a></nav>
		<button aria-label="Open profile menu"><img src="avatar.png"></button>
		<a href="/hidden" style="display: none">Hidden</a>
		<div hidden><a href="/x">Inside hidden</a></div>
		<a href="/gone" data-sc-hidden="1">Collapsed</a>
		<button disabled>Disabled</button>
		<a href="/close">Close</a>
		<div role="tab" tabindex="0">Privacy tab</div>
		<span><a href="/icon"><img alt="Account"></a></span>
		<div>Notification preferences <span><a href="/n"></a></span></div>`))

	cands := Extract(snap)
	require.Equal(t, []string{
		"Settings", "Open profile menu", "Privacy tab", "Account", "Notification preferences",
	}, labelsOf(cands))

	settings := cands[0]
	assert.Equal(t, RoleLink, settings.Role)
	assert.Equal(t, "/settings", settings.Href)
	assert.True(t, settings.InNav)
	assert.False(t, cands[1].InNav)
	assert.Equal(t, RoleButton, cands[1].Role)
	assert.Equal(t, RoleTab, cands[2].Role)

	for i, c := range cands {
		assert.Equal(t, i, c.Index)
		assert.Same(t, c.node, snap.FindLocator(c.Locator), "locator %s must resolve to its element", c.Locator)
	}
}

func TestExtract_Dedup(t *testing.T) {
	snap := mustSnapshot(origin+"/", htmlDoc(`
		<a href="/a">Settings</a>
		<a href="/b">Settings</a>
		<button data-sc-box="0,10,50,20">Privacy</button>
		<button data-sc-box="0,90,50,20">Privacy</button>`))

	cands := Extract(snap)
	assert.Equal(t, []string{"Settings", "Privacy", "Privacy"}, labelsOf(cands))
	require.NotNil(t, cands[1].Box)
	assert.Equal(t, Box{X: 0, Y: 10, W: 50, H: 20}, *cands[1].Box)
}

func TestExtract_DataHrefAndTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "settings "
	}
	snap := mustSnapshot(origin+"/", htmlDoc(`
		<div role="link" data-href="/account">Your account</div>
		<a href="/long">`+long+`</a>`))

	cands := Extract(snap)
	require.Len(t, cands, 2)
	assert.Equal(t, "/account", cands[0].Href)
	assert.Equal(t, RoleLink, cands[0].Role)
	assert.LessOrEqual(t, len([]rune(cands[1].Label)), maxLabelRunes)
}
