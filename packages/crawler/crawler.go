package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"laundromat-importer/packages/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
)

const maxBodyBytes = 2 << 20

// Inspector fetches a listing's own website and pulls out the text used
// for service detection and language tagging.
type Inspector struct {
	client *http.Client
}

func New(timeout time.Duration) *Inspector {
	return &Inspector{
		client: &http.Client{Timeout: timeout},
	}
}

// NormalizeURL adds a scheme to bare hostnames and rejects anything that is
// not http(s).
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("unsupported url %q", raw)
	}
	return u.String(), nil
}

func (c *Inspector) Inspect(ctx context.Context, rawURL string) (*domain.WebsiteInfo, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	slog.Debug("Inspecting listing website", "url", target)

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("Website returned bad status code", "url", target, "status_code", resp.StatusCode)
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	info := &domain.WebsiteInfo{FinalURL: resp.Request.URL.String()}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "html") {
		slog.Debug("Content-Type is not HTML", "url", target, "content_type", contentType)
		return info, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	info.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if val, exists := doc.Find("meta[name='description']").Attr("content"); exists {
		info.Description = strings.TrimSpace(val)
	}

	doc.Find("script, style, noscript").Remove()
	re := strings.NewReplacer("\n", " ", "\t", " ", "\r", " ")
	info.TextContent = strings.Join(strings.Fields(re.Replace(doc.Text())), " ")

	var textSnippet string
	words := strings.Fields(info.TextContent)
	if len(words) > 100 {
		textSnippet = strings.Join(words[:100], " ")
	} else {
		textSnippet = info.TextContent
	}

	textForDetection := info.Title + " " + info.Description + " " + textSnippet
	if strings.TrimSpace(textForDetection) != "" {
		lang := whatlanggo.Detect(textForDetection)
		if lang.IsReliable() {
			info.Language = lang.Lang.Iso6393()
		}
	}

	return info, nil
}
