package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/config"
	"archivist/internal/fetch"
	"archivist/internal/jobspec"
	"archivist/internal/keys"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
	"archivist/internal/sources"
	"archivist/internal/testsupport"
)

func TestIngestSegmentSurvivesOneTimedOutImage(t *testing.T) {
	var hangs atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/series/chapter-5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Chapter 5</h1>
<div class="reader">
  <img src="/img/1.jpg"><img src="/img/2.jpg"><img src="/img/3.jpg">
</div></body></html>`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img/2.jpg" {
			hangs.Add(1)
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(testsupport.JPEG(1024))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := fetch.New(fetch.Options{
		UserAgent: "archivist-test",
		Timeout:   100 * time.Millisecond,
		Retry:     retry.Policy{Attempts: 3},
		Logger:    logging.NewNop(),
	})
	env := newTestEnvWithFetcher(t, sources.NewRouter(client, "", logging.NewNop()))
	work, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 5)

	job, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: server.URL + "/series/chapter-5",
		Template:  "generic-comic",
		Download:  true,
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, ledger.JobSuccess, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.FinishedAt)

	assert.Equal(t, 3, out.ImageCount)
	assert.Equal(t, 2, out.SuccessCount)
	assert.Equal(t, 1, out.FailedCount)
	assert.Equal(t, 3, out.Images.Expected)
	assert.Equal(t, 2, out.Images.Succeeded)
	assert.Equal(t, 1, out.Images.Failed)
	require.Len(t, out.Images.Errors, 1)
	assert.True(t, strings.HasPrefix(out.Images.Errors[0], "2: image_fetch_failed"), out.Images.Errors[0])
	assert.Equal(t, int32(3), hangs.Load(), "timed out image is attempted once per retry")

	var stored jobspec.IngestSegmentOutput
	require.NoError(t, json.Unmarshal(job.Output, &stored))
	assert.Equal(t, out, stored)

	segKeys := keys.Edition{Media: "manhwa", WorkID: work.ID, EditionID: edition.ID}.Segment("chapter", 5)
	assert.Equal(t, fmt.Sprintf("raw/manhwa/%s/%s/chapter-5/page-001.jpg", work.ID, edition.ID), segKeys.Page(1, "jpg"))
	assert.True(t, env.exists(t, segKeys.Page(1, "jpg")))
	assert.True(t, env.exists(t, segKeys.Page(3, "jpg")))
	assert.False(t, env.exists(t, segKeys.Page(2, "jpg")))
	assert.True(t, env.exists(t, segKeys.Manifest()))

	attached, err := env.ledger.ListSegmentAssets(context.Background(), segment.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 2)
}

func TestIngestSegmentWithoutDownloadOnlyWritesManifest(t *testing.T) {
	env := newTestEnv(t)
	work, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 2)
	unitURL := "https://example.test/series/chapter-2"
	env.fetcher.Payloads[unitURL] = sources.Payloads{
		Images: []string{"https://cdn.example.test/1.jpg", "https://cdn.example.test/2.jpg"},
		Texts:  []string{"Author note"},
	}

	job, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  false,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, job.Status)
	assert.Equal(t, 2, out.ImageCount)
	assert.Equal(t, 1, out.TextCount)
	assert.False(t, out.Downloaded)
	assert.Zero(t, out.SuccessCount)
	assert.Zero(t, env.fetcher.Calls("bytes https://cdn.example.test/1.jpg"))

	segKeys := keys.Edition{Media: "manhwa", WorkID: work.ID, EditionID: edition.ID}.Segment("chapter", 2)
	assert.Equal(t, []string{segKeys.Manifest()}, env.keys(t, segKeys.Dir()))

	raw, err := env.blobs.Get(context.Background(), segKeys.Manifest())
	require.NoError(t, err)
	var manifest struct {
		SegmentID string   `json:"segmentId"`
		Images    []string `json:"images"`
		Subtitles []string `json:"subtitles"`
		Texts     []string `json:"texts"`
		Download  bool     `json:"download"`
	}
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, segment.ID, manifest.SegmentID)
	assert.Len(t, manifest.Images, 2)
	assert.Empty(t, manifest.Subtitles)
	assert.NotNil(t, manifest.Subtitles)
	assert.Equal(t, []string{"Author note"}, manifest.Texts)
	assert.False(t, manifest.Download)
}

func TestIngestSegmentStoresEveryGroup(t *testing.T) {
	env := newTestEnv(t)
	work, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaAnime)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentEpisode, 1.5)
	unitURL := "https://example.test/show/episode-1.5"
	env.fetcher.Payloads[unitURL] = sources.Payloads{
		Images:    []string{"https://cdn.example.test/thumb"},
		Subtitles: []string{"https://cdn.example.test/ep1.5.vtt"},
		Texts:     []string{"Synopsis", "Staff notes"},
	}
	env.fetcher.Bytes["https://cdn.example.test/thumb"] = testsupport.JPEG(900)
	env.fetcher.Bytes["https://cdn.example.test/ep1.5.vtt"] = []byte("WEBVTT\n\n00:01.000 --> 00:02.000\nHi\n")

	_, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, out.SuccessCount)
	assert.Zero(t, out.FailedCount)
	assert.Equal(t, jobspec.GroupCounts{Expected: 1, Succeeded: 1}, out.Images)
	assert.Equal(t, jobspec.GroupCounts{Expected: 1, Succeeded: 1}, out.Subtitles)
	assert.Equal(t, jobspec.GroupCounts{Expected: 2, Succeeded: 2}, out.Texts)

	segKeys := keys.Edition{Media: "anime", WorkID: work.ID, EditionID: edition.ID}.Segment("episode", 1.5)
	assert.True(t, strings.HasSuffix(segKeys.Dir(), "/episode-1.5"))
	assert.ElementsMatch(t, []string{
		segKeys.Manifest(),
		segKeys.Page(1, "jpg"),
		segKeys.Subtitle(1, "vtt"),
		segKeys.Text(1),
		segKeys.Text(2),
	}, env.keys(t, segKeys.Dir()))
	assert.Equal(t, "text/vtt", env.blobs.ContentType(segKeys.Subtitle(1, "vtt")))

	attached, err := env.ledger.ListSegmentAssets(context.Background(), segment.ID)
	require.NoError(t, err)
	roles := map[ledger.Role]int{}
	kinds := map[ledger.AssetKind]int{}
	for _, sa := range attached {
		roles[sa.Role]++
		kinds[sa.Asset.Kind]++
	}
	assert.Equal(t, map[ledger.Role]int{ledger.RolePage: 1, ledger.RoleSubtitle: 1, ledger.RoleText: 2}, roles)
	assert.Equal(t, 1, kinds[ledger.AssetRawImage])
	assert.Equal(t, 1, kinds[ledger.AssetRawSubtitle])
	assert.Equal(t, 2, kinds[ledger.AssetCleanedText])
}

func TestIngestSegmentFailsWhenNoImageSurvives(t *testing.T) {
	env := newTestEnv(t)
	work, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 3)
	unitURL := "https://example.test/series/chapter-3"
	env.fetcher.Payloads[unitURL] = sources.Payloads{
		Images: []string{"https://cdn.example.test/a.jpg", "https://cdn.example.test/b.jpg"},
		Texts:  []string{"still stored"},
	}
	env.fetcher.Failures["https://cdn.example.test/a.jpg"] = services.Wrap(services.ErrTimeout, "fetch", "request", "a.jpg", nil)
	env.fetcher.Bytes["https://cdn.example.test/b.jpg"] = []byte("tiny")

	job, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrStructural))
	assert.Equal(t, 2, out.Images.Failed)
	assert.Zero(t, out.Images.Succeeded)
	assert.Len(t, out.Images.Errors, 2)
	assert.Equal(t, 1, out.Texts.Succeeded)

	assert.Equal(t, ledger.JobFailed, job.Status)
	assert.Empty(t, job.Output)
	assert.Contains(t, job.ErrorMessage, "0 of 2 images")

	segKeys := keys.Edition{Media: "manhwa", WorkID: work.ID, EditionID: edition.ID}.Segment("chapter", 3)
	assert.True(t, env.exists(t, segKeys.Manifest()), "manifest is written before downloads")
}

func TestIngestSegmentRejectsUndersizedImages(t *testing.T) {
	env := newTestEnv(t)
	work, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 4)
	unitURL := "https://example.test/series/chapter-4"
	env.fetcher.Payloads[unitURL] = sources.Payloads{
		Images: []string{"https://cdn.example.test/full.jpg", "https://cdn.example.test/placeholder.jpg"},
	}
	env.fetcher.Bytes["https://cdn.example.test/full.jpg"] = testsupport.JPEG(1024)
	env.fetcher.Bytes["https://cdn.example.test/placeholder.jpg"] = testsupport.JPEG(100)
	require.Equal(t, 512, env.cfg.Fetch.MinImageBytes)

	job, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, job.Status)
	assert.Equal(t, 2, out.Images.Expected)
	assert.Equal(t, 1, out.Images.Succeeded)
	assert.Equal(t, 1, out.Images.Failed)
	require.Len(t, out.Images.Errors, 1)
	assert.Contains(t, out.Images.Errors[0], "image_too_small")
	assert.True(t, strings.HasPrefix(out.Images.Errors[0], "2: "))

	segKeys := keys.Edition{Media: "manhwa", WorkID: work.ID, EditionID: edition.ID}.Segment("chapter", 4)
	assert.ElementsMatch(t, []string{segKeys.Manifest(), segKeys.Page(1, "jpg")}, env.keys(t, segKeys.Dir()))
	assert.False(t, env.exists(t, segKeys.Page(2, "jpg")))

	attached, err := env.ledger.ListSegmentAssets(context.Background(), segment.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 1)
}

func TestIngestSegmentWithOnlyTextsSucceeds(t *testing.T) {
	env := newTestEnv(t)
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaNovel)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 10)
	unitURL := "https://novel.example.test/chapter-10"
	env.fetcher.Payloads[unitURL] = sources.Payloads{Texts: []string{"Paragraph one.", "   ", "Paragraph three."}}

	job, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-novel",
		Download:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, job.Status)
	assert.Equal(t, 2, out.Texts.Succeeded)
	assert.Equal(t, 1, out.Texts.Failed)
	assert.Equal(t, []string{"2: blank_text"}, out.Texts.Errors)
	assert.Zero(t, out.ImageCount)
}

func TestIngestSegmentUsesCanonicalURL(t *testing.T) {
	env := newTestEnv(t)
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaNovel)
	segment, _, err := env.ledger.UpsertSegment(context.Background(), ledger.Segment{
		EditionID:    edition.ID,
		Kind:         ledger.SegmentChapter,
		Ordinal:      1,
		CanonicalURL: "https://novel.example.test/chapter-1",
	})
	require.NoError(t, err)
	env.fetcher.Payloads["https://novel.example.test/chapter-1"] = sources.Payloads{Texts: []string{"Once upon a time."}}

	_, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		Template:  "generic-novel",
		Download:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, 1, env.fetcher.Calls("payloads https://novel.example.test/chapter-1"))
}

func TestIngestSegmentStructuralFailures(t *testing.T) {
	env := newTestEnv(t)
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaNovel)
	noURL := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 4)

	tests := []struct {
		name   string
		input  jobspec.IngestSegmentInput
		marker error
	}{
		{
			name:   "missing segment",
			input:  jobspec.IngestSegmentInput{SegmentID: "does-not-exist", Template: "generic-novel", Download: true},
			marker: services.ErrStructural,
		},
		{
			name:   "no source url",
			input:  jobspec.IngestSegmentInput{SegmentID: noURL.ID, Template: "generic-novel", Download: true},
			marker: services.ErrStructural,
		},
		{
			name:   "unknown template",
			input:  jobspec.IngestSegmentInput{SegmentID: noURL.ID, Template: "nope", SourceURL: "https://x.test/c/4", Download: true},
			marker: services.ErrValidation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job, _, err := env.svc.Segments.IngestNow(context.Background(), tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.marker), "got %v", err)
			require.NotNil(t, job)
			assert.Equal(t, ledger.JobFailed, job.Status)
			assert.NotEmpty(t, job.ErrorMessage)
		})
	}
}

func TestIngestSegmentFailsWhenPayloadsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 8)
	env.fetcher.PayloadErr = services.Wrap(services.ErrTransient, "fetch", "request", "503", nil)

	job, _, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: "https://example.test/series/chapter-8",
		Template:  "generic-comic",
		Download:  true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrTransient))
	assert.Equal(t, ledger.JobFailed, job.Status)
}

func TestIngestSegmentPacesImages(t *testing.T) {
	fake := testsupport.NewFakeFetcher()
	env := newTestEnvWithFetcher(t, fake, func(cfg *config.Config) {
		cfg.Fetch.ImageDelayMS = 40
	})
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 1)
	unitURL := "https://example.test/series/chapter-1"
	images := []string{"https://cdn.example.test/1.jpg", "https://cdn.example.test/2.jpg", "https://cdn.example.test/3.jpg"}
	fake.Payloads[unitURL] = sources.Payloads{Images: images}
	for _, u := range images {
		fake.Bytes[u] = testsupport.JPEG(1024)
	}

	start := time.Now()
	_, out, err := env.svc.Segments.IngestNow(context.Background(), jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Images.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestIngestSegmentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 6)
	unitURL := "https://example.test/series/chapter-6"
	env.fetcher.Payloads[unitURL] = sources.Payloads{Images: []string{"https://cdn.example.test/6-1.webp"}}
	env.fetcher.Bytes["https://cdn.example.test/6-1.webp"] = append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 1012)...)

	in := jobspec.IngestSegmentInput{SegmentID: segment.ID, SourceURL: unitURL, Template: "generic-comic", Download: true}
	_, _, err := env.svc.Segments.IngestNow(context.Background(), in)
	require.NoError(t, err)
	_, _, err = env.svc.Segments.IngestNow(context.Background(), in)
	require.NoError(t, err)

	attached, err := env.ledger.ListSegmentAssets(context.Background(), segment.ID)
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.True(t, strings.HasSuffix(attached[0].Asset.StorageKey, "/page-001.webp"))
	assert.Equal(t, "image/webp", attached[0].Asset.ContentType)
}

// interruptingFetcher cancels the run after the first image download.
type interruptingFetcher struct {
	*testsupport.FakeFetcher
	cancel context.CancelFunc
}

func (f *interruptingFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := f.FakeFetcher.FetchBytes(ctx, rawURL)
	f.cancel()
	return data, err
}

func TestIngestSegmentInterruptedRunIsRecordedAsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := testsupport.NewFakeFetcher()
	env := newTestEnvWithFetcher(t, &interruptingFetcher{FakeFetcher: fake, cancel: cancel})
	_, edition := testsupport.SeedEdition(t, env.ledger, ledger.MediaManhwa)
	segment := testsupport.SeedSegment(t, env.ledger, edition.ID, ledger.SegmentChapter, 6)
	unitURL := "https://example.test/series/chapter-6"
	fake.Payloads[unitURL] = sources.Payloads{
		Images: []string{"https://cdn.example.test/1.jpg", "https://cdn.example.test/2.jpg"},
	}
	fake.Bytes["https://cdn.example.test/1.jpg"] = testsupport.JPEG(1024)
	fake.Bytes["https://cdn.example.test/2.jpg"] = testsupport.JPEG(1024)

	job, _, err := env.svc.Segments.IngestNow(ctx, jobspec.IngestSegmentInput{
		SegmentID: segment.ID,
		SourceURL: unitURL,
		Template:  "generic-comic",
		Download:  true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, job)
	assert.Equal(t, ledger.JobFailed, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Zero(t, fake.Calls("bytes https://cdn.example.test/2.jpg"))

	running, err := env.ledger.ListJobs(context.Background(), ledger.JobFilter{Statuses: []ledger.JobStatus{ledger.JobRunning}})
	require.NoError(t, err)
	assert.Empty(t, running)
}
