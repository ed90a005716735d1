package maps

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/places-search/internal/search"
)

const (
	feedSelector  = `div[role="feed"]`
	itemSelector  = `div[jsaction]`
	placeSelector = `a[href*="/maps/place/"]`
)

var (
	coordsPattern = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d -]{8,}\d`)
	mapsOrigin    = &url.URL{Scheme: "https", Host: "www.google.com"}
)

// ParseListings extracts one RawListing per place card in a rendered results
// feed. Cards are keyed by their place link so nested containers are not
// counted twice.
func ParseListings(r io.Reader) ([]search.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse results feed: %w", err)
	}
	out := make([]search.RawListing, 0)
	seen := make(map[string]struct{})
	doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(placeSelector).First()
		if link.Length() == 0 {
			return
		}
		href := absoluteURL(link.AttrOr("href", ""))
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		out = append(out, parseCard(item, link, href))
	})
	return out, nil
}

func parseCard(item, link *goquery.Selection, href string) search.RawListing {
	raw := search.RawListing{SourceURL: href}

	if m := coordsPattern.FindStringSubmatch(href); m != nil {
		raw.Latitude, raw.Longitude = m[1], m[2]
	}

	if nameEl := item.Find("div.fontHeadlineSmall").First(); nameEl.Length() > 0 {
		raw.Name = nameEl.Text()
	} else if nameEl := item.Find(".qBF1Pd").First(); nameEl.Length() > 0 {
		raw.Name = nameEl.Text()
	} else {
		raw.Name = link.AttrOr("aria-label", "")
	}

	if stars := item.Find(`span[role="img"]`).First(); stars.Length() > 0 {
		parts := strings.Split(stars.AttrOr("aria-label", ""), " ")
		raw.Rating = parts[0]
		if len(parts) > 2 {
			raw.ReviewCount = parts[2]
		}
	}

	if img := item.Find("img").First(); img.Length() > 0 {
		raw.ImageURL = img.AttrOr("src", "")
	}

	lines := textLines(item)
	raw.Address = firstLine(lines, func(l string) bool { return strings.Contains(l, ",") })
	if raw.Address == "" && len(lines) > 2 {
		raw.Address = lines[2]
	}
	raw.Phone = firstLine(lines, phonePattern.MatchString)

	if site := item.Find(`a[data-value="Website"]`).First(); site.Length() > 0 {
		raw.Website = absoluteURL(site.AttrOr("href", ""))
	} else {
		raw.Website = firstLine(lines, looksLikeDomain)
	}
	return raw
}

// textLines approximates rendered innerText: every non-blank text node is a line.
func textLines(sel *goquery.Selection) []string {
	var lines []string
	for _, n := range sel.Nodes {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
				return
			}
			if n.Type == html.TextNode {
				for _, l := range strings.Split(n.Data, "\n") {
					if t := strings.TrimSpace(l); t != "" {
						lines = append(lines, t)
					}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(n)
	}
	return lines
}

func firstLine(lines []string, match func(string) bool) string {
	for _, l := range lines {
		if match(l) {
			return l
		}
	}
	return ""
}

// looksLikeDomain rejects dotted numbers such as ratings ("4.6").
func looksLikeDomain(l string) bool {
	if !strings.Contains(l, ".") || strings.ContainsAny(l, " \t,") {
		return false
	}
	return strings.IndexFunc(l, func(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }) >= 0
}

func absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return mapsOrigin.ResolveReference(u).String()
}
