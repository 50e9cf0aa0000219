package extract

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// strategy yields a value for one field, or reports absence.
type strategy func(doc *goquery.Document, basic TechnicalFields) (string, bool)

func fromBasic(pick func(TechnicalFields) *string) strategy {
	return func(_ *goquery.Document, basic TechnicalFields) (string, bool) {
		v := pick(basic)
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	}
}

func fromSibling(pattern string) strategy {
	re := regexp.MustCompile(pattern)
	return func(doc *goquery.Document, _ TechnicalFields) (string, bool) {
		v, ok := SiblingText(doc, re)
		return v, ok && v != ""
	}
}

type chain struct {
	assign     func(*TechnicalFields, *string)
	strategies []strategy
}

var fieldChains = []chain{
	{
		assign: func(f *TechnicalFields, v *string) { f.Category = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.Category }),
			fromSibling(`(类型|類型|类别|類別)[：:]?`),
		},
	},
	{
		assign: func(f *TechnicalFields, v *string) { f.Medium = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.Medium }),
			fromSibling(`(媒介|音频类|音頻類|音訊類)[：:]?`),
		},
	},
	{
		assign: func(f *TechnicalFields, v *string) { f.VideoCodec = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.VideoCodec }),
			fromSibling(`(编码|編碼|视频编码|視頻編碼|視訊編碼)[：:]?`),
		},
	},
	{
		assign: func(f *TechnicalFields, v *string) { f.AudioCodec = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.AudioCodec }),
			fromSibling(`(音频编码|音頻編碼|音訊編碼)[：:]?`),
		},
	},
	{
		assign: func(f *TechnicalFields, v *string) { f.Standard = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.Standard }),
			fromSibling(`(分辨率|解析度|标准|標準)[：:]?`),
		},
	},
	{
		assign: func(f *TechnicalFields, v *string) { f.ProductionTeam = v },
		strategies: []strategy{
			fromBasic(func(t TechnicalFields) *string { return t.ProductionTeam }),
			fromSibling(`(制作组|製作組)[：:]?`),
		},
	},
}

// Fields resolves every technical field through its strategy chain: the
// basic-info row first, then a label-cell search anywhere on the page. Size
// only comes from the basic-info row.
func Fields(doc *goquery.Document) TechnicalFields {
	basic := BasicInfo(doc)
	out := TechnicalFields{Size: basic.Size, SizeBytes: basic.SizeBytes}
	for _, c := range fieldChains {
		for _, s := range c.strategies {
			if v, ok := s(doc, basic); ok {
				c.assign(&out, &v)
				break
			}
		}
	}
	return out
}
