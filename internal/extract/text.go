package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// strippedText concatenates the trimmed text nodes under sel, dropping the
// empty ones. Adjacent nodes are joined with sep.
func strippedText(sel *goquery.Selection, sep string) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, sep)
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// cellLabel returns the text a label cell carries. A cell wrapping a single
// element (<td><b>类型</b></td>) is read through that element; a cell with
// several children or none carries no label.
func cellLabel(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	n := sel.Nodes[0]
	for n.FirstChild != nil && n.FirstChild == n.LastChild && n.FirstChild.Type == html.ElementNode {
		n = n.FirstChild
	}
	if n.FirstChild != nil && n.FirstChild == n.LastChild && n.FirstChild.Type == html.TextNode {
		return n.FirstChild.Data
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// labeledRow finds the first table row whose td.rowhead cell mentions any of
// labels and returns that row.
func labeledRow(doc *goquery.Document, labels ...string) (*goquery.Selection, bool) {
	var row *goquery.Selection
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		head := tr.Find("td.rowhead").First()
		if head.Length() == 0 {
			return true
		}
		if containsAny(strippedText(head, ""), labels) {
			row = tr
			return false
		}
		return true
	})
	return row, row != nil
}

// bodyRows returns the rows of the first tbody, which NexusPHP detail pages
// use for the main info table.
func bodyRows(doc *goquery.Document) *goquery.Selection {
	return doc.Find("tbody").First().Find("tr")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
