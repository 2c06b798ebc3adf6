package feed

import (
	"strings"
	"time"

	"job-feed-importer/internal/models"
)

// Extraction strategy names, bound to sources at startup via config.
const (
	StrategyJobFeed     = "job_feed"
	StrategyArticleFeed = "article_feed"
)

// rssEnvelope is the top-level feed document. The decoder yields a one-element
// Items slice for singleton feeds, so no special casing is needed downstream.
type rssEnvelope struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

// rssItem matches by local name, so namespaced tags like content:encoded and
// job_listing:company bind without declaring their namespaces here.
type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	ID          string `xml:"id"`
	Description string `xml:"description"`
	Encoded     string `xml:"encoded"`
	Company     string `xml:"company"`
	Location    string `xml:"location"`
	PubDate     string `xml:"pubDate"`
}

// extractor maps one feed item to a candidate record. ok is false when the item
// carries no usable external identity and must be dropped.
type extractor func(item rssItem, sourceURL string) (models.CandidateRecord, bool)

var extractors = map[string]extractor{
	StrategyJobFeed:     extractJobItem,
	StrategyArticleFeed: extractArticleItem,
}

// extractJobItem reads the job-listing schema: detailed description lives in
// content:encoded when present, company and location in job_listing tags.
func extractJobItem(item rssItem, sourceURL string) (models.CandidateRecord, bool) {
	externalID := firstNonEmpty(item.ID, item.GUID)
	if externalID == "" {
		return models.CandidateRecord{}, false
	}
	description := firstNonEmpty(item.Encoded, item.Description)
	return models.CandidateRecord{
		ExternalID:    externalID,
		Title:         strings.TrimSpace(item.Title),
		Description:   strings.TrimSpace(description),
		Company:       strings.TrimSpace(item.Company),
		Location:      strings.TrimSpace(item.Location),
		JobURL:        strings.TrimSpace(item.Link),
		PublishedDate: parsePubDate(item.PubDate),
		SourceURL:     sourceURL,
	}, true
}

// extractArticleItem reads plain article feeds, which have no company, location
// or salary data. GUID falls back to the link for identity.
func extractArticleItem(item rssItem, sourceURL string) (models.CandidateRecord, bool) {
	externalID := firstNonEmpty(item.GUID, item.Link)
	if externalID == "" {
		return models.CandidateRecord{}, false
	}
	return models.CandidateRecord{
		ExternalID:    externalID,
		Title:         strings.TrimSpace(item.Title),
		Description:   strings.TrimSpace(item.Description),
		JobURL:        strings.TrimSpace(item.Link),
		PublishedDate: parsePubDate(item.PubDate),
		SourceURL:     sourceURL,
	}, true
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// parsePubDate returns nil for absent or unparseable dates; the field is
// optional and must never fail an item.
func parsePubDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
