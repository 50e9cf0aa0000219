// Package extract pulls human-facing metadata out of NexusPHP-style torrent
// detail pages. Every function tolerates missing markup and reports absence
// instead of failing.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	promoMarker   = regexp.MustCompile(`(?i)\[\s*(?:\d+(?:\.\d+)?x\s*)?(?:免费|免費|free)\s*\]`)
	remainingTime = regexp.MustCompile(`(?i)(?:剩余时间|剩餘時間|remaining time)\s*[：:].*`)
)

var (
	subtitleLabels = []string{"副标题", "副標題"}
	tagLabels      = []string{"标签", "標籤", "標簽"}
	basicLabels    = []string{"基本信息", "基本資訊"}
	keptFieldsets  = []string{"官组作品", "原作者"}
)

var (
	descriptionSelectors = []string{"#kdescr", "#descr", ".descr"}
	descrHTMLSelectors   = []string{"#kdescr", "#descr", ".descr", ".description", "#description"}
)

// Title returns the h1#top heading without promotion markers or the
// trailing countdown.
func Title(doc *goquery.Document) (string, bool) {
	h := doc.Find("h1#top").First()
	if h.Length() == 0 {
		return "", false
	}
	t := strippedText(h, " ")
	t = promoMarker.ReplaceAllString(t, "")
	t = remainingTime.ReplaceAllString(t, "")
	t = collapseSpace(t)
	return t, t != ""
}

// Subtitle returns the 副标题 row, falling back to the last cell of the
// second info-table row.
func Subtitle(doc *goquery.Document) (string, bool) {
	if row, ok := labeledRow(doc, subtitleLabels...); ok {
		if cell := row.Find("td.rowfollow").First(); cell.Length() > 0 {
			return strippedText(cell, ""), true
		}
	}
	rows := bodyRows(doc)
	if rows.Length() < 2 {
		return "", false
	}
	cells := rows.Eq(1).Find("td")
	if cells.Length() == 0 {
		return "", false
	}
	return strippedText(cells.Last(), ""), true
}

// Description returns the inner HTML of the description block. Fieldsets
// are quoted material and are removed unless they credit the release group
// or the original author.
func Description(doc *goquery.Document) (string, bool) {
	node := firstMatch(doc, descriptionSelectors)
	if node == nil {
		return "", false
	}
	node = node.Clone()
	node.Find("fieldset").Each(func(_ int, fs *goquery.Selection) {
		if !containsAny(strippedText(fs, ""), keptFieldsets) {
			fs.Remove()
		}
	})
	inner, err := node.Html()
	if err != nil || inner == "" {
		return "", false
	}
	return inner, true
}

// DescrHTML returns the outer HTML of the description block, the page body
// when there is none, or "".
func DescrHTML(doc *goquery.Document) string {
	node := firstMatch(doc, descrHTMLSelectors)
	if node == nil {
		node = doc.Find("body").First()
	}
	if node.Length() == 0 {
		return ""
	}
	out, err := goquery.OuterHtml(node)
	if err != nil {
		return ""
	}
	return out
}

// Tags returns the comma-joined tag labels of the page.
func Tags(doc *goquery.Document) (string, bool) {
	if row, ok := labeledRow(doc, tagLabels...); ok {
		cell := row.Find("td.rowfollow").First()
		if cell.Length() == 0 {
			return "", false
		}
		return tagText(cell)
	}
	rows := bodyRows(doc)
	var (
		found  string
		hit    bool
		headed bool
	)
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return true
		}
		if containsAny(strippedText(cells.First(), ""), tagLabels) {
			found, hit = tagText(cells.Last())
			headed = true
			return false
		}
		return true
	})
	if headed {
		return found, hit
	}
	if rows.Length() >= 3 {
		cells := rows.Eq(2).Find("td")
		if cells.Length() >= 2 {
			return tagText(cells.Eq(1))
		}
	}
	return "", false
}

func tagText(cell *goquery.Selection) (string, bool) {
	var labels []string
	cell.Find("span").Each(func(_ int, s *goquery.Selection) {
		if t := strippedText(s, ""); t != "" {
			labels = append(labels, t)
		}
	})
	if len(labels) > 0 {
		return strings.Join(labels, ","), true
	}
	t := strippedText(cell, "")
	return t, t != ""
}

func firstMatch(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			return node
		}
	}
	return nil
}
