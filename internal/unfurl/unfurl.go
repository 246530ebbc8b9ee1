// Package unfurl extracts link-preview embeds from message content: find
// the URLs a message references, fetch each concurrently, and turn
// whatever the response looks like (an HTML page, an image, a media file)
// into a message.Embed.
package unfurl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/message"
)

const (
	maxURLsPerMessage = 5
	sniffWindow       = 24 * 1024
	maxHTMLBody       = 512 * 1024
	totalTimeout      = 8 * time.Second
	connectTimeout    = 3 * time.Second
	readTimeout       = 5 * time.Second
	maxConnsPerHost   = 10
	userAgent         = "uncordbot/1.0 (+https://uncord.chat/bot)"
)

// urlPattern mirrors the content-scanning regex message validation already
// uses elsewhere: no lookbehind in the stdlib engine, so trailing
// punctuation is stripped by the caller rather than excluded by the
// pattern itself.
var urlPattern = regexp.MustCompile(`https?://\S+`)

// trailingPunct is stripped from the end of an extracted URL; a message
// author trails a link with a period or wraps it in parens far more often
// than a real URL ends in one of these.
const trailingPunct = ".,;:!?)]}>\"'"

// Service extracts embeds from message content by fetching referenced URLs.
type Service struct {
	client     *http.Client
	serverHost string
	textPolicy *bluemonday.Policy
	log        zerolog.Logger
}

// New creates a Service. serverURL is the application's own public base
// URL (config.Config.ServerURL); links that point back at it — invite
// links in particular — are never fetched.
func New(serverURL string, logger zerolog.Logger) *Service {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       maxConnsPerHost,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		DisableCompression:    true,
		ResponseHeaderTimeout: readTimeout,
	}

	var host string
	if u, err := url.Parse(serverURL); err == nil {
		host = u.Host
	}

	return &Service{
		client: &http.Client{
			Timeout:   totalTimeout,
			Transport: transport,
		},
		serverHost: host,
		textPolicy: bluemonday.StrictPolicy(),
		log:        logger,
	}
}

// Unfurl extracts up to maxURLsPerMessage distinct URLs from content,
// fetches each concurrently, and returns one embed per URL that produced
// non-empty content. Order matches first occurrence in content. Individual
// fetch failures are logged and simply contribute no embed; Unfurl itself
// never returns an error since an unfurl failure must never surface to the
// message author.
func (s *Service) Unfurl(ctx context.Context, content string) []message.Embed {
	urls := extractURLs(content, s.serverHost)
	if len(urls) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	embeds := make([]*message.Embed, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			embed, err := s.fetchOne(ctx, u)
			if err != nil {
				s.log.Debug().Err(err).Str("url", u).Msg("unfurl fetch failed")
				return
			}
			embeds[i] = embed
		}(i, u)
	}
	wg.Wait()

	out := make([]message.Embed, 0, len(urls))
	for _, e := range embeds {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// extractURLs finds every https?:// URL in content, strips trailing
// punctuation and unmatched closing brackets, drops any URL whose host
// matches the server's own, dedupes, and caps the result at
// maxURLsPerMessage.
func extractURLs(content, serverHost string) []string {
	matches := urlPattern.FindAllString(content, -1)

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, maxURLsPerMessage)
	for _, raw := range matches {
		u := stripTrailing(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		if isInternal(u, serverHost) {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == maxURLsPerMessage {
			break
		}
	}
	return out
}

func stripTrailing(raw string) string {
	u := strings.TrimRight(raw, trailingPunct)
	for {
		switch {
		case strings.HasSuffix(u, ")") && strings.Count(u, "(") < strings.Count(u, ")"):
			u = u[:len(u)-1]
		case strings.HasSuffix(u, "]") && strings.Count(u, "[") < strings.Count(u, "]"):
			u = u[:len(u)-1]
		case strings.HasSuffix(u, "}") && strings.Count(u, "{") < strings.Count(u, "}"):
			u = u[:len(u)-1]
		default:
			return u
		}
	}
}

func isInternal(raw, serverHost string) bool {
	if serverHost == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Host, serverHost) {
		return false
	}
	return strings.Contains(u.Path, "/invite")
}

// fetchOne fetches a single URL and builds the embed its response implies.
// A response that would be an empty shell (no title, description, image,
// or media url) is reported as nil, nil rather than an error.
func (s *Service) fetchOne(ctx context.Context, target string) (*message.Embed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unfurl: unexpected status code %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	contentType := resp.Header.Get("Content-Type")

	switch {
	case isHTMLContentType(contentType):
		return s.extractHTML(resp.Body, finalURL)
	case strings.HasPrefix(contentType, "image/"):
		return mediaEmbed(finalURL, "image"), nil
	case strings.HasPrefix(contentType, "video/"):
		return mediaEmbed(finalURL, "video"), nil
	case strings.HasPrefix(contentType, "audio/"):
		return mediaEmbed(finalURL, "audio"), nil
	}

	sniff := make([]byte, sniffWindow)
	n, _ := io.ReadFull(resp.Body, sniff)
	sniff = sniff[:n]

	switch kind := sniffMedia(sniff); kind {
	case "":
		if looksLikeHTML(sniff) {
			return s.extractHTML(io.MultiReader(bytes.NewReader(sniff), resp.Body), finalURL)
		}
		return nil, nil
	default:
		return mediaEmbed(finalURL, kind), nil
	}
}

func isHTMLContentType(ct string) bool {
	ct, _, _ = strings.Cut(ct, ";")
	ct = strings.TrimSpace(ct)
	return ct == "text/html" || ct == "application/xhtml+xml"
}

func mediaEmbed(finalURL, kind string) *message.Embed {
	e := &message.Embed{URL: &finalURL}
	switch kind {
	case "image":
		e.ImageURL = &finalURL
	case "video":
		e.VideoURL = &finalURL
	case "audio":
		e.AudioURL = &finalURL
	}
	return e
}

func looksLikeHTML(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	lower := bytes.ToLower(trimmed)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		bytes.Contains(lower[:min(len(lower), 512)], []byte("<head"))
}
