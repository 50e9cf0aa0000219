package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var sizeText = regexp.MustCompile(`(?i)([\d.]+)\s*([KMGT]?B)`)

var sizeUnits = map[string]float64{
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// TechnicalFields holds the attributes published in a detail page's
// basic-info row. A nil field was not present on the page.
type TechnicalFields struct {
	Category       *string `json:"category,omitempty"`
	Medium         *string `json:"medium,omitempty"`
	VideoCodec     *string `json:"video_codec,omitempty"`
	AudioCodec     *string `json:"audiocodec,omitempty"`
	Standard       *string `json:"standard,omitempty"`
	ProductionTeam *string `json:"production_team,omitempty"`
	Size           *string `json:"size,omitempty"`
	SizeBytes      *int64  `json:"size_bytes,omitempty"`
}

func (f *TechnicalFields) slot(k field) **string {
	switch k {
	case fieldSize:
		return &f.Size
	case fieldCategory:
		return &f.Category
	case fieldMedium:
		return &f.Medium
	case fieldAudioCodec:
		return &f.AudioCodec
	case fieldVideoCodec:
		return &f.VideoCodec
	case fieldStandard:
		return &f.Standard
	case fieldProductionTeam:
		return &f.ProductionTeam
	default:
		return nil
	}
}

// BasicInfo walks the basic-info cell. Each <b> element names the field for
// the text that follows it; text under an unknown label is dropped. A label
// with no text after it leaves its field nil.
func BasicInfo(doc *goquery.Document) TechnicalFields {
	var fields TechnicalFields
	cell, ok := basicInfoCell(doc)
	if !ok {
		return fields
	}

	var current **string
	for _, n := range cell.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "b" {
				b := goquery.NewDocumentFromNode(c).Selection
				label, has := b.Attr("title")
				if !has || label == "" {
					label = strippedText(b, "")
				}
				current = fields.slot(normalizeLabel(label))
				if current != nil && *current == nil {
					empty := ""
					*current = &empty
				}
				continue
			}
			text := nodeText(c)
			if current == nil || text == "" {
				continue
			}
			joined := **current
			if joined != "" {
				joined += " "
			}
			joined += text
			*current = &joined
		}
	}

	for k := fieldSize; k <= fieldProductionTeam; k++ {
		if v := fields.slot(k); v != nil && *v != nil && **v == "" {
			*v = nil
		}
	}
	if fields.Size != nil {
		if n, ok := ParseSize(*fields.Size); ok {
			fields.SizeBytes = &n
		}
	}
	return fields
}

func basicInfoCell(doc *goquery.Document) (*goquery.Selection, bool) {
	if row, ok := labeledRow(doc, basicLabels...); ok {
		if cell := row.Find("td.rowfollow").First(); cell.Length() > 0 {
			return cell, true
		}
	}
	rows := bodyRows(doc)
	if rows.Length() < 4 {
		return nil, false
	}
	cell := rows.Eq(3).Find("td").First()
	return cell, cell.Length() > 0
}

func nodeText(n *html.Node) string {
	var text string
	switch n.Type {
	case html.TextNode:
		text = n.Data
	case html.ElementNode:
		text = strippedText(goquery.NewDocumentFromNode(n).Selection, "")
	default:
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
}

// ParseSize converts a human size such as "1.5 GB" into bytes using binary
// multiples. Plain byte counts ("512 B") are not recognised.
func ParseSize(s string) (int64, bool) {
	m := sizeText.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	mult, ok := sizeUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int64(v * mult), true
}

// SiblingText finds the first td whose own text matches pattern and returns
// the trimmed text of the td that follows it.
func SiblingText(doc *goquery.Document, pattern *regexp.Regexp) (string, bool) {
	var (
		out   string
		found bool
	)
	doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if !pattern.MatchString(cellLabel(td)) {
			return true
		}
		next := td.NextAllFiltered("td").First()
		if next.Length() > 0 {
			out, found = strippedText(next, ""), true
		}
		return false
	})
	return out, found
}
