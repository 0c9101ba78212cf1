package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"archivist/internal/fetch"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/templates"
)

const (
	defaultMangaDexAPI  = "https://api.mangadex.org"
	mangaDexSiteBase    = "https://mangadex.org"
	defaultFeedPageSize = 100
)

// MangaDex reads chapters from the MangaDex API: the manga feed for
// discovery and the at-home server for page URLs.
type MangaDex struct {
	client  *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// NewMangaDex returns the MangaDex strategy against baseURL.
func NewMangaDex(client *fetch.Client, baseURL string, logger *slog.Logger) *MangaDex {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultMangaDexAPI
	}
	return &MangaDex{client: client, baseURL: baseURL, logger: logger}
}

type mdManga struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Title     map[string]string   `json:"title"`
			AltTitles []map[string]string `json:"altTitles"`
		} `json:"attributes"`
	} `json:"data"`
}

type mdFeed struct {
	Result string `json:"result"`
	Data   []struct {
		ID         string `json:"id"`
		Attributes struct {
			Chapter            *string `json:"chapter"`
			Title              *string `json:"title"`
			TranslatedLanguage string  `json:"translatedLanguage"`
			ExternalURL        *string `json:"externalUrl"`
		} `json:"attributes"`
	} `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type mdAtHome struct {
	Result  string `json:"result"`
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`
		DataSaver []string `json:"dataSaver"`
	} `json:"chapter"`
}

// DiscoverUnits pages through the manga's chapter feed in the template's
// language. Chapters without a number or hosted externally are skipped.
func (m *MangaDex) DiscoverUnits(ctx context.Context, sourceURL string, tmpl *templates.Template) (Discovery, error) {
	mangaID, err := idFromPath(sourceURL, "title", "manga")
	if err != nil {
		return Discovery{}, err
	}
	lang := tmpl.MangaDex.Language
	if lang == "" {
		lang = "en"
	}
	pageSize := tmpl.MangaDex.PageSize
	if pageSize <= 0 {
		pageSize = defaultFeedPageSize
	}

	var discovery Discovery
	var manga mdManga
	if err := m.client.GetJSON(ctx, m.baseURL+"/manga/"+url.PathEscape(mangaID), &manga); err != nil {
		return Discovery{}, err
	}
	discovery.Title = pickLang(manga.Data.Attributes.Title, lang)

	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Add("translatedLanguage[]", lang)
		q.Set("order[chapter]", "asc")
		q.Set("includeExternalUrl", "0")
		feedURL := fmt.Sprintf("%s/manga/%s/feed?%s", m.baseURL, url.PathEscape(mangaID), q.Encode())

		var feed mdFeed
		if err := m.client.GetJSON(ctx, feedURL, &feed); err != nil {
			return Discovery{}, err
		}
		for _, ch := range feed.Data {
			if ch.Attributes.Chapter == nil || ch.Attributes.ExternalURL != nil {
				continue
			}
			ordinal, err := strconv.ParseFloat(strings.TrimSpace(*ch.Attributes.Chapter), 64)
			if err != nil {
				m.logger.Debug("chapter skipped; unparseable number",
					logging.String("chapter_id", ch.ID),
					logging.String("chapter", *ch.Attributes.Chapter),
				)
				continue
			}
			unit := Unit{Ordinal: ordinal, URL: mangaDexSiteBase + "/chapter/" + ch.ID}
			if ch.Attributes.Title != nil {
				unit.Title = *ch.Attributes.Title
			}
			discovery.Units = append(discovery.Units, unit)
		}
		if len(feed.Data) == 0 || offset+len(feed.Data) >= feed.Total {
			break
		}
	}
	return discovery, nil
}

// FetchUnitPayloads asks the at-home server for the chapter's page files.
func (m *MangaDex) FetchUnitPayloads(ctx context.Context, unitURL string, tmpl *templates.Template) (Payloads, error) {
	chapterID, err := idFromPath(unitURL, "chapter")
	if err != nil {
		return Payloads{}, err
	}
	var home mdAtHome
	if err := m.client.GetJSON(ctx, m.baseURL+"/at-home/server/"+url.PathEscape(chapterID), &home); err != nil {
		return Payloads{}, err
	}
	if home.BaseURL == "" || home.Chapter.Hash == "" {
		return Payloads{}, services.Wrap(services.ErrTransient, "sources", "mangadex at-home", "response missing baseUrl or hash", nil)
	}
	files, quality := home.Chapter.Data, "data"
	if tmpl.MangaDex.DataSaver && len(home.Chapter.DataSaver) > 0 {
		files, quality = home.Chapter.DataSaver, "data-saver"
	}
	base := strings.TrimRight(home.BaseURL, "/")
	images := make([]string, 0, len(files))
	for _, file := range files {
		images = append(images, fmt.Sprintf("%s/%s/%s/%s", base, quality, home.Chapter.Hash, url.PathEscape(file)))
	}
	return Payloads{Images: images}, nil
}

// idFromPath returns the path segment following one of the given markers,
// e.g. the UUID in https://mangadex.org/title/<id>/slug.
func idFromPath(rawURL string, markers ...string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "sources", "mangadex url", rawURL, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		for _, marker := range markers {
			if parts[i] == marker && parts[i+1] != "" {
				return parts[i+1], nil
			}
		}
	}
	return "", services.Wrap(services.ErrValidation, "sources", "mangadex url", fmt.Sprintf("no %s id in %q", strings.Join(markers, "/"), rawURL), nil)
}

func pickLang(m map[string]string, lang string) string {
	if m == nil {
		return ""
	}
	if v := strings.TrimSpace(m[lang]); v != "" {
		return v
	}
	if v := strings.TrimSpace(m["en"]); v != "" {
		return v
	}
	for _, v := range m {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
