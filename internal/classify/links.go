// Package classify picks detail-page and torrent-download links out of
// tracker HTML.
package classify

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var detailMarkers = []string{"details.php?id=", "/details/", "view.php?id="}

// FindDetailLinks returns the absolute URLs of every anchor that points at a
// torrent detail page. Duplicates are collapsed; the first occurrence keeps
// its position.
func FindDetailLinks(doc *goquery.Document, baseURL string) []string {
	if doc == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isDetailHref(href) {
			return
		}
		abs := AbsoluteURL(baseURL, href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// FindTorrentLink returns the first download link on a detail page.
func FindTorrentLink(doc *goquery.Document, baseURL string) (string, bool) {
	if doc == nil {
		return "", false
	}
	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.Contains(href, "download.php?id=") || strings.HasSuffix(strings.TrimSpace(href), ".torrent") {
			link = AbsoluteURL(baseURL, href)
			return false
		}
		return true
	})
	return link, link != ""
}

func isDetailHref(href string) bool {
	for _, marker := range detailMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}
	return false
}

// AbsoluteURL resolves href against base. Absolute http(s) hrefs are returned
// unchanged and base is always treated as a directory.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return base + strings.TrimPrefix(href, "/")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base + strings.TrimPrefix(href, "/")
	}
	return baseURL.ResolveReference(ref).String()
}
