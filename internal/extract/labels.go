package extract

import "strings"

// field names a technical attribute of a torrent.
type field int

const (
	fieldUnknown field = iota
	fieldSize
	fieldCategory
	fieldMedium
	fieldAudioCodec
	fieldVideoCodec
	fieldStandard
	fieldProductionTeam
)

// labelRule maps a bilingual label to a field. A rule matches when the label
// contains one of the substrings or equals one of the exact values.
type labelRule struct {
	field    field
	contains []string
	exact    []string
}

// labelRules is checked in order. Audio codec comes before video codec so
// that 音频编码 never lands in the video column.
var labelRules = []labelRule{
	{field: fieldSize, contains: []string{"大小"}},
	{field: fieldCategory, contains: []string{"类型", "類型", "类别", "類別"}},
	{field: fieldMedium, contains: []string{"媒介", "音频类", "音頻類", "音訊類"}},
	{field: fieldAudioCodec, contains: []string{"音频编码", "音頻編碼", "音訊編碼"}},
	{field: fieldVideoCodec, contains: []string{"视频编码", "視頻編碼", "視訊編碼"}, exact: []string{"编码", "編碼"}},
	{field: fieldStandard, contains: []string{"分辨率", "标准", "解析度", "標準"}},
	{field: fieldProductionTeam, contains: []string{"制作组", "製作組"}},
}

var labelCleaner = strings.NewReplacer(":", "", "：", "")

func normalizeLabel(label string) field {
	label = labelCleaner.Replace(strings.TrimSpace(label))
	if label == "" {
		return fieldUnknown
	}
	for _, rule := range labelRules {
		if containsAny(label, rule.contains) {
			return rule.field
		}
		for _, exact := range rule.exact {
			if label == exact {
				return rule.field
			}
		}
	}
	return fieldUnknown
}
