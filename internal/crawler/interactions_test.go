package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExpander_TargetsAndOrder(t *testing.T) {
	x := newExpander(8, 0, 50*time.Millisecond, NewDenylist(nil), AllowAll, zaptest.NewLogger(t))
	snap := mustSnapshot(origin+"/settings", htmlDoc(`
		<button aria-expanded="false">Notifications</button>
		<div role="tablist">
			<div role="tab" aria-selected="true">General</div>
			<div role="tab">Security</div>
		</div>
		<details><summary>Privacy and data</summary><p>hidden</p></details>
		<details open><summary>Already open</summary></details>
		<button>Save</button>
		<button>Show advanced options</button>
		<button aria-expanded="false">Reset everything</button>
		<a href="/x" aria-expanded="false">Linked section</a>
		<a href="/y"><span role="tab">Nested tab</span></a>`))

	var labels []string
	for _, tg := range x.targets(snap) {
		labels = append(labels, tg.label)
	}
	assert.Equal(t, []string{"Privacy and data", "Security", "Notifications", "Show advanced options"}, labels)
}

func TestExpander_Expand(t *testing.T) {
	site := &fakeSite{pages: map[string]string{}}
	fp := &fakePage{site: site, url: origin + "/settings", doc: htmlDoc(`
		<button aria-expanded="false">Section one</button>
		<button aria-expanded="false">Section two</button>
		<button aria-expanded="false">Section three</button>`)}
	snap := mustSnapshot(fp.url, fp.doc)

	x := newExpander(2, time.Millisecond, 50*time.Millisecond, NewDenylist(nil), AllowAll, zaptest.NewLogger(t))
	exp := x.Expand(context.Background(), fp, snap)
	assert.Equal(t, []string{"Section one", "Section two"}, exp.Clicked)
	assert.False(t, exp.Navigated)
	assert.Equal(t, []string{"Section one", "Section two"}, fp.clicked)

	var asked []Action
	deny := func(a Action) bool {
		asked = append(asked, a)
		return false
	}
	fp.clicked = nil
	x = newExpander(8, 0, 50*time.Millisecond, NewDenylist(nil), deny, zaptest.NewLogger(t))
	assert.Empty(t, x.Expand(context.Background(), fp, snap).Clicked)
	assert.Empty(t, fp.clicked)
	require.Len(t, asked, 3)
	assert.Equal(t, ActionExpand, asked[0].Kind)
}

func TestExpander_StopsWhenAClickNavigates(t *testing.T) {
	site := &fakeSite{pages: map[string]string{
		origin + "/account/privacy": htmlDoc(`<h1>Privacy</h1>`),
	}}
	fp := &fakePage{site: site, url: origin + "/", doc: htmlDoc(`
		<button data-href="/account/privacy">Privacy Settings</button>
		<button aria-expanded="false">Section two</button>`)}
	snap := mustSnapshot(fp.url, fp.doc)

	x := newExpander(8, 0, 50*time.Millisecond, NewDenylist(nil), AllowAll, zaptest.NewLogger(t))
	exp := x.Expand(context.Background(), fp, snap)

	assert.True(t, exp.Navigated)
	assert.Equal(t, []string{"Privacy Settings"}, exp.Clicked)
	assert.Equal(t, []string{"Privacy Settings"}, fp.clicked, "no click lands on the new document")
	assert.Equal(t, origin+"/account/privacy", fp.URL())
}

func TestFindBannerAccept(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		label string
		found bool
	}{
		{
			name:  "known consent manager",
			body:  `<div id="onetrust-banner-sdk"><button id="onetrust-accept-btn-handler">I Accept</button></div>`,
			label: "I Accept",
			found: true,
		},
		{
			name:  "text match inside cookie container",
			body:  `<div class="cookie-notice"><button>Manage preferences</button><button>Got it</button></div>`,
			label: "Got it",
			found: true,
		},
		{
			name:  "dialog container",
			body:  `<div role="dialog"><input type="submit" value="Agree"></div>`,
			label: "Agree",
			found: true,
		},
		{
			name:  "accept outside any banner",
			body:  `<main><button>Continue</button></main>`,
			found: false,
		},
		{
			name:  "reject only",
			body:  `<div class="consent"><button>Reject all</button></div>`,
			found: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, loc, ok := findBannerAccept(mustSnapshot(origin+"/", htmlDoc(tt.body)))
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.label, label)
				assert.NotEmpty(t, loc)
			}
		})
	}
}

func TestBannerHandler_Dismiss(t *testing.T) {
	site := &fakeSite{pages: map[string]string{
		origin + "/":      htmlDoc(`<div id="cookie-bar"><button data-toggle-html="` + origin + `/clean">Accept</button></div>`),
		origin + "/clean": htmlDoc(`<p>Welcome</p>`),
	}}
	fp := newFakePage(site, origin+"/")
	b := newBannerHandler(2, time.Millisecond, 50*time.Millisecond, AllowAll, zaptest.NewLogger(t))

	assert.True(t, b.Dismiss(context.Background(), fp))
	assert.Equal(t, []string{"Accept"}, fp.clicked)
	assert.False(t, b.Dismiss(context.Background(), fp), "nothing left to dismiss")
}

func TestMenuOpener(t *testing.T) {
	site := &fakeSite{pages: map[string]string{
		origin + "/": htmlDoc(`
			<button class="avatar-button" aria-haspopup="menu" aria-label="Account menu" data-toggle-html="` + origin + `/open"></button>
			<a href="/pricing">Pricing</a>`),
		origin + "/open": htmlDoc(`
			<button class="avatar-button" aria-haspopup="menu" aria-expanded="true" aria-label="Account menu"></button>
			<a href="/pricing">Pricing</a>
			<div role="menu">
				<a role="menuitem" href="/me">My profile</a>
				<a role="menuitem" href="/logout">Log out</a>
			</div>`),
	}}
	fp := newFakePage(site, origin+"/")
	m := newMenuOpener(50*time.Millisecond, 0, NewDenylist(nil), AllowAll, zaptest.NewLogger(t))

	snap := mustSnapshot(fp.url, fp.doc)
	trigger, ok := m.bestTrigger(snap)
	require.True(t, ok)
	assert.Equal(t, "Account menu", trigger.label)
	// haspopup, avatar class, account label.
	assert.InDelta(t, 1.0+0.9+0.8, trigger.score, 1e-9)

	items, opened, ok := m.Open(context.Background(), fp, snap)
	require.True(t, ok)
	require.NotNil(t, opened)
	assert.Equal(t, []string{"My profile", "Log out"}, labelsOf(items))
	for _, it := range items {
		assert.True(t, it.InMenu)
	}

	r := newTestRanker(t, origin+"/")
	ranked, _ := r.Rank(items, opened.URL)
	require.Len(t, ranked, 1)
	assert.Equal(t, "My profile", ranked[0].Label)
}

func TestMenuOpener_NoTrigger(t *testing.T) {
	m := newMenuOpener(50*time.Millisecond, 0, NewDenylist(nil), AllowAll, zaptest.NewLogger(t))
	_, ok := m.bestTrigger(mustSnapshot(origin+"/", htmlDoc(`<a href="/account">Account</a>`)))
	assert.False(t, ok, "a plain account link scores below the trigger threshold")
}

func TestNavigator_NoStateChange(t *testing.T) {
	site := &fakeSite{pages: map[string]string{
		origin + "/": htmlDoc(`<button>Settings</button>`),
	}}
	fp := newFakePage(site, origin+"/")
	holder := &fakeHolder{page: fp}

	opts := testOptions(origin + "/")
	engine, err := NewEngine(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	r := &run{Engine: engine, holder: holder, st: NewState()}
	nav := newNavigator(holder, opts.Crawler, opts.LoadStateTimeout, r.observe, zaptest.NewLogger(t))

	before, err := r.observe(context.Background())
	require.NoError(t, err)
	cands := Extract(before.snap)
	require.Len(t, cands, 1)

	start := time.Now()
	out := nav.AttemptClick(context.Background(), cands[0], before.sig)
	assert.True(t, out.Success)
	assert.False(t, out.StateChanged)
	assert.Equal(t, "click", out.Method)
	assert.GreaterOrEqual(t, time.Since(start), opts.Crawler.StateChangeTimeout)

	missing := Candidate{Label: "Gone", Locator: "/html[1]/body[1]/div[7]"}
	out = nav.AttemptClick(context.Background(), missing, before.sig)
	assert.False(t, out.Success)
}
