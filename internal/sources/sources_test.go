package sources_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/fetch"
	"archivist/internal/retry"
	"archivist/internal/services"
	"archivist/internal/sources"
	"archivist/internal/templates"
)

func newRouter(t *testing.T, mangaDexBase string) *sources.Router {
	t.Helper()
	client := fetch.New(fetch.Options{
		Timeout: 2 * time.Second,
		Retry:   retry.Policy{Attempts: 1},
	})
	return sources.NewRouter(client, mangaDexBase, nil)
}

func mustTemplate(t *testing.T, name string) *templates.Template {
	t.Helper()
	catalog, err := templates.NewCatalog()
	require.NoError(t, err)
	tmpl, err := catalog.Get(name)
	require.NoError(t, err)
	return tmpl
}

const indexPage = `<!doctype html>
<html><head><title>ignored</title></head>
<body>
  <h1>  The  Iron   Library </h1>
  <ul class="chapters">
    <li><a href="/book/chapter-2">Chapter 2</a></li>
    <li><a href="/book/chapter-1">Chapter 1: Opening</a></li>
    <li><a href="/book/chapter-1">Chapter 1 (mirror)</a></li>
    <li><a href="/book/chapter-2.5">Chapter 2.5 Interlude</a></li>
    <li><a href="/about">About</a></li>
    <li><a href="#top">Chapter 99 anchor</a></li>
  </ul>
</body></html>`

const chapterPage = `<!doctype html>
<html><body>
  <div class="chapter-content">
    <p>First   paragraph.</p>
    <p></p>
    <p>Second paragraph.</p>
    <img src="/img/1.jpg">
    <img data-src="https://cdn.example/img/2.png">
  </div>
  <p>Footer text</p>
  <img src="/img/logo.png">
</body></html>`

func TestHTMLDiscoverUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	discovery, err := newRouter(t, "").DiscoverUnits(context.Background(), srv.URL+"/book", mustTemplate(t, "generic-novel"))
	require.NoError(t, err)

	assert.Equal(t, "The Iron Library", discovery.Title)
	require.Len(t, discovery.Units, 3)
	assert.Equal(t, 1.0, discovery.Units[0].Ordinal)
	assert.Equal(t, "Chapter 1: Opening", discovery.Units[0].Title)
	assert.Equal(t, srv.URL+"/book/chapter-1", discovery.Units[0].URL)
	assert.Equal(t, 2.0, discovery.Units[1].Ordinal)
	assert.Equal(t, 2.5, discovery.Units[2].Ordinal)
}

func TestHTMLFetchUnitPayloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chapterPage))
	}))
	defer srv.Close()

	payloads, err := newRouter(t, "").FetchUnitPayloads(context.Background(), srv.URL+"/book/chapter-1", mustTemplate(t, "generic-novel"))
	require.NoError(t, err)

	assert.Equal(t, []string{"First paragraph.", "Second paragraph."}, payloads.Texts)
	assert.Equal(t, []string{srv.URL + "/img/1.jpg", "https://cdn.example/img/2.png"}, payloads.Images)
	assert.Empty(t, payloads.Subtitles)
}

func TestHTMLNoMatchesIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>redesigned</p></body></html>`))
	}))
	defer srv.Close()

	router := newRouter(t, "")
	_, err := router.DiscoverUnits(context.Background(), srv.URL, mustTemplate(t, "generic-comic"))
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = router.FetchUnitPayloads(context.Background(), srv.URL, mustTemplate(t, "generic-comic"))
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestMangaDexStrategy(t *testing.T) {
	const mangaID = "a1b2c3"
	mux := http.NewServeMux()
	mux.HandleFunc("/manga/"+mangaID, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":{"id":"a1b2c3","attributes":{"title":{"en":"Tower Climber"}}}}`)
	})
	mux.HandleFunc("/manga/"+mangaID+"/feed", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en", r.URL.Query().Get("translatedLanguage[]"))
		switch r.URL.Query().Get("offset") {
		case "0":
			_, _ = fmt.Fprint(w, `{"result":"ok","total":3,"data":[
				{"id":"c1","attributes":{"chapter":"1","title":"Start"}},
				{"id":"c2","attributes":{"chapter":null,"title":"Oneshot"}}
			]}`)
		default:
			_, _ = fmt.Fprint(w, `{"result":"ok","total":3,"data":[
				{"id":"c3","attributes":{"chapter":"1.5","title":null}}
			]}`)
		}
	})
	mux.HandleFunc("/at-home/server/c1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"result":"ok","baseUrl":"https://node.example","chapter":{"hash":"h1","data":["p1.jpg","p2.jpg"],"dataSaver":["s1.jpg"]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tmpl := *mustTemplate(t, "mangadex")
	tmpl.MangaDex.PageSize = 2
	router := newRouter(t, srv.URL)

	discovery, err := router.DiscoverUnits(context.Background(), "https://mangadex.org/title/"+mangaID+"/tower-climber", &tmpl)
	require.NoError(t, err)
	assert.Equal(t, "Tower Climber", discovery.Title)
	require.Len(t, discovery.Units, 2)
	assert.Equal(t, 1.0, discovery.Units[0].Ordinal)
	assert.Equal(t, "https://mangadex.org/chapter/c1", discovery.Units[0].URL)
	assert.Equal(t, 1.5, discovery.Units[1].Ordinal)

	payloads, err := router.FetchUnitPayloads(context.Background(), "https://mangadex.org/chapter/c1", &tmpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://node.example/data/h1/p1.jpg", "https://node.example/data/h1/p2.jpg"}, payloads.Images)

	tmpl.MangaDex.DataSaver = true
	payloads, err = router.FetchUnitPayloads(context.Background(), "https://mangadex.org/chapter/c1", &tmpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://node.example/data-saver/h1/s1.jpg"}, payloads.Images)
}

func TestMangaDexRejectsURLWithoutID(t *testing.T) {
	_, err := newRouter(t, "http://127.0.0.1:1").DiscoverUnits(context.Background(), "https://mangadex.org/search", mustTemplate(t, "mangadex"))
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestFetchBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer srv.Close()

	body, err := newRouter(t, "").FetchBytes(context.Background(), srv.URL+"/img.jpg")
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Café Noir", sources.CleanTitle("  Café \n Noir "))
}

func TestRouterRequiresTemplate(t *testing.T) {
	_, err := newRouter(t, "").DiscoverUnits(context.Background(), "https://x.example", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
}
