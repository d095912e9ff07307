package retrieval

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/guardrails"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	// maxFetchSources bounds the fallback fetch per turn.
	maxFetchSources = 3

	// maxFetchChars truncates each fetched document.
	maxFetchChars = 2000

	// maxFetchBody caps how much of a response body is read at all.
	maxFetchBody = 256 * 1024
)

// Fetcher pulls not-yet-indexed knowledge sources directly by URL so a
// freshly added source is usable before the indexer has run.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher with the given per-source timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// FetchUnindexed fetches up to maxFetchSources sources concurrently.
// Every failure is logged and skipped; the call itself never fails.
func (f *Fetcher) FetchUnindexed(ctx context.Context, sources []models.KnowledgeSource) []models.KnowledgeChunk {
	if len(sources) > maxFetchSources {
		sources = sources[:maxFetchSources]
	}

	var mu sync.Mutex
	chunks := make([]models.KnowledgeChunk, 0, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			text, err := f.fetchOne(gctx, src.URL)
			if err != nil {
				log.Debug().Err(err).Str("url", src.URL).Msg("unindexed source fetch skipped")
				return nil
			}
			mu.Lock()
			chunks = append(chunks, models.KnowledgeChunk{Text: text, Source: src.URL})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return guardrails.CleanChunks(chunks)
}

// fetchOne retrieves a single URL, enforcing the content-type
// allow-list and the per-item character cap.
func (f *Fetcher) fetchOne(ctx context.Context, url string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html, text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &unexpectedStatusError{status: resp.StatusCode}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "text/plain" {
		return "", &unsupportedContentError{mediaType: mediaType}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", err
	}

	text := string(body)
	if mediaType == "text/html" {
		text = stripMarkup(text)
	}
	text = ScrubBinaryPayloads(strings.TrimSpace(text))
	if len(text) > maxFetchChars {
		text = text[:maxFetchChars]
	}
	return text, nil
}

// stripMarkup extracts the visible text of an HTML document, skipping
// script and style subtrees.
func stripMarkup(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

type unexpectedStatusError struct{ status int }

func (e *unexpectedStatusError) Error() string {
	return http.StatusText(e.status) + " fetching source"
}

type unsupportedContentError struct{ mediaType string }

func (e *unsupportedContentError) Error() string {
	return "unsupported content type " + e.mediaType
}
