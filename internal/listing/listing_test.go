package listing

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]bool
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string]string{}, fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) crawler.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if f.fail[req.URL] {
		return crawler.FetchResult{URL: req.URL, Outcome: crawler.OutcomeTerminal, Attempts: 5, Reason: "failed after 5 attempts: last status 503"}
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return crawler.FetchResult{URL: req.URL, Outcome: crawler.OutcomeTerminal, Reason: "failed after 5 attempts: last status 404"}
	}
	return crawler.FetchResult{
		URL:      req.URL,
		Outcome:  crawler.OutcomeSuccess,
		Response: crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)},
		Attempts: 1,
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	_, err := New(Config{Kind: KindJSON}, f)
	require.ErrorIs(t, err, crawler.ErrFatalConfiguration)

	_, err = New(Config{Kind: "rss", URL: "https://x"}, f)
	require.ErrorIs(t, err, crawler.ErrFatalConfiguration)

	_, err = New(Config{Kind: KindHTML, URL: "https://x/{index}"}, f)
	require.ErrorIs(t, err, crawler.ErrFatalConfiguration)

	l, err := New(Config{Kind: KindXML, URL: "https://x/sitemap.xml"}, f)
	require.NoError(t, err)
	require.IsType(t, &XML{}, l)
}

func TestJSONPage(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.bodies["https://worker.example/sitemap/cases?index=1"] = `["/gd/s/A", "/gd/s/B", "/gd/s/A", {"url": "/gd/s/C"}, ""]`
	f.bodies["https://worker.example/sitemap/cases?index=2"] = `[]`
	l := NewJSON(Config{URL: "https://worker.example/sitemap/cases?index={index}"}, f)

	page, err := l.Page(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"/gd/s/A", "/gd/s/B", "/gd/s/C"}, page)

	page, err = l.Page(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestJSONPageErrors(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.fail["https://worker.example/p/1"] = true
	f.bodies["https://worker.example/p/2"] = `{"not":"an array"}`
	l := NewJSON(Config{URL: "https://worker.example/p/{index}"}, f)

	_, err := l.Page(context.Background(), 1)
	require.ErrorIs(t, err, crawler.ErrTerminalFetch)

	_, err = l.Page(context.Background(), 2)
	require.Error(t, err)
}

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://sso.example/sitemap-1.xml</loc></sitemap>
  <sitemap><loc>https://sso.example/sitemap-2.xml</loc></sitemap>
</sitemapindex>`

func urlset(locs ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, l := range locs {
		s += "<url><loc>" + l + "</loc></url>"
	}
	return s + "</urlset>"
}

func TestXMLSitemapIndex(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.bodies["https://sso.example/sitemap.xml"] = sitemapIndex
	f.bodies["https://sso.example/sitemap-1.xml"] = urlset("https://sso.example/Act/A1", "https://sso.example/Act/A2")
	f.bodies["https://sso.example/sitemap-2.xml"] = urlset("https://sso.example/Act/B1")
	l := NewXML(Config{URL: "https://sso.example/sitemap.xml", StartIndex: 1}, f)

	page, err := l.Page(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://sso.example/Act/A1", "https://sso.example/Act/A2"}, page)

	page, err = l.Page(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"https://sso.example/Act/B1"}, page)

	page, err = l.Page(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, page)

	require.Equal(t, 1, f.calls["https://sso.example/sitemap.xml"])
}

func TestXMLFlatURLSetChunks(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.bodies["https://sso.example/sitemap.xml"] = urlset("/Act/1", "/Act/2", "/Act/3", "/Act/4", "/Act/5")
	l := NewXML(Config{URL: "https://sso.example/sitemap.xml", StartIndex: 1, PageSize: 2}, f)

	var pages [][]string
	for i := 1; i <= 4; i++ {
		page, err := l.Page(context.Background(), i)
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Equal(t, [][]string{{"/Act/1", "/Act/2"}, {"/Act/3", "/Act/4"}, {"/Act/5"}, {}}, pages)
}

func TestXMLRootFailureIsRetriedNextCall(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.fail["https://sso.example/sitemap.xml"] = true
	l := NewXML(Config{URL: "https://sso.example/sitemap.xml", StartIndex: 1}, f)

	_, err := l.Page(context.Background(), 1)
	require.Error(t, err)

	f.mu.Lock()
	f.fail["https://sso.example/sitemap.xml"] = false
	f.bodies["https://sso.example/sitemap.xml"] = urlset("/Act/1")
	f.mu.Unlock()

	page, err := l.Page(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"/Act/1"}, page)
}

func TestHTMLBrowsePage(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.bodies["https://sso.example/Browse/SL/Current/All/0?PageSize=500"] = `<html><body>
		<a href="/Help">help</a>
		<div class="browse-list-row">
			<a href="/SL/S1-2020?DocDate=20200101">one</a>
			<a href="/SL/S2-2020">two</a>
			<a href="/SL/S1-2020?ViewType=Advance">dup</a>
			<a href="/Act/ASA2007">act</a>
		</div>
		<a href="/SL/Outside">outside</a>
	</body></html>`
	f.bodies["https://sso.example/Browse/SL/Current/All/1?PageSize=500"] = `<html><body><div class="browse-list-row"></div></body></html>`

	l := NewHTML(Config{
		URL:        "https://sso.example/Browse/SL/Current/All/{index}?PageSize=500",
		LinkPrefix: "/SL/",
		Container:  "div.browse-list-row",
	}, f)

	page, err := l.Page(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"/SL/S1-2020", "/SL/S2-2020"}, page)

	page, err = l.Page(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, page)
}

type pageRecorder struct{ asked []int }

func (p *pageRecorder) Page(_ context.Context, index int) ([]string, error) {
	p.asked = append(p.asked, index)
	return nil, nil
}

func TestShift(t *testing.T) {
	t.Parallel()

	inner := &pageRecorder{}
	require.Same(t, crawler.Listing(inner), Shift(inner, 0))

	l := Shift(inner, -1)
	_, err := l.Page(context.Background(), 1)
	require.NoError(t, err)
	_, err = l.Page(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, inner.asked)
}
