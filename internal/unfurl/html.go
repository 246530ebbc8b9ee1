package unfurl

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/uncord-chat/uncord-server/internal/message"
)

// extractHTML parses up to maxHTMLBody bytes of body as HTML and builds an
// embed from its Open Graph tags, falling back to <title> and
// meta[name=description] when the corresponding og: tag is absent. baseURL
// resolves og:image against a relative URL and is used as the embed's own
// url when neither og:url nor <link rel=canonical> is present. Returns nil,
// nil for a document that yields no title, description, or image (an empty
// shell, not worth an embed).
func (s *Service) extractHTML(body io.Reader, baseURL string) (*message.Embed, error) {
	limited := io.LimitReader(body, maxHTMLBody)
	doc, err := html.Parse(limited)
	if err != nil {
		return nil, err
	}

	var meta struct {
		title, desc, image, canonical, siteName, color string
		fallbackTitle, fallbackDesc                     string
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.fallbackTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name, property, content := metaAttrs(n)
				switch {
				case property == "og:title":
					meta.title = content
				case property == "og:description":
					meta.desc = content
				case property == "og:image" || property == "og:image:url":
					meta.image = content
				case property == "og:url":
					meta.canonical = content
				case property == "og:site_name":
					meta.siteName = content
				case property == "theme-color" || name == "theme-color":
					meta.color = normalizeColor(content)
				case name == "description":
					meta.fallbackDesc = content
				}
			case "link":
				if attrVal(n, "rel") == "canonical" {
					if href := attrVal(n, "href"); href != "" && meta.canonical == "" {
						meta.canonical = href
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	title := firstNonEmpty(meta.title, meta.fallbackTitle)
	desc := firstNonEmpty(meta.desc, meta.fallbackDesc)
	image := resolveAgainst(baseURL, meta.image)
	canonical := firstNonEmpty(resolveAgainst(baseURL, meta.canonical), baseURL)

	if title == "" && desc == "" && image == "" {
		return nil, nil
	}

	embed := &message.Embed{}
	if title != "" {
		t := s.sanitizeText(title)
		embed.Title = &t
	}
	if desc != "" {
		d := s.sanitizeText(desc)
		embed.Description = &d
	}
	if image != "" {
		embed.ImageURL = &image
	}
	if canonical != "" {
		embed.URL = &canonical
	}
	if meta.siteName != "" {
		sn := s.sanitizeText(meta.siteName)
		embed.SiteName = &sn
	}
	if meta.color != "" {
		c := meta.color
		embed.Color = &c
	}
	return embed, nil
}

func metaAttrs(n *html.Node) (name, property, content string) {
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(a.Val))
		case "property":
			property = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	return
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolveAgainst(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// normalizeColor expands a 3-digit hex shorthand (#fff) to 6 digits.
func normalizeColor(c string) string {
	c = strings.TrimSpace(c)
	if len(c) == 4 && c[0] == '#' {
		return "#" + string(c[1]) + string(c[1]) + string(c[2]) + string(c[2]) + string(c[3]) + string(c[3])
	}
	return c
}

// sanitizeText strips any markup an og:title/og:description value smuggled
// in before it is stored and later rendered to other clients.
func (s *Service) sanitizeText(raw string) string {
	return strings.TrimSpace(s.textPolicy.Sanitize(raw))
}
