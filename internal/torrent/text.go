package torrent

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const utf8BOM = "\ufeff"

// textDecoders is tried in order; the first one that accepts the bytes wins.
// Plain UTF-8 accepts a leading BOM and keeps it as U+FEFF.
var textDecoders = []func(string) (string, bool){
	decodeUTF8,
	decodeUTF8BOM,
	decodeLatin1,
}

// decodeText turns a bencoded byte string into display text. Torrents in the
// wild mix UTF-8 and legacy single-byte encodings in names and paths.
func decodeText(raw string) string {
	for _, dec := range textDecoders {
		if s, ok := dec(raw); ok {
			return s
		}
	}
	return strings.ToValidUTF8(raw, "")
}

func decodeUTF8(raw string) (string, bool) {
	return raw, utf8.ValidString(raw)
}

func decodeUTF8BOM(raw string) (string, bool) {
	if !strings.HasPrefix(raw, utf8BOM) {
		return "", false
	}
	s := strings.TrimPrefix(raw, utf8BOM)
	return s, utf8.ValidString(s)
}

func decodeLatin1(raw string) (string, bool) {
	s, err := charmap.ISO8859_1.NewDecoder().String(raw)
	if err != nil {
		return "", false
	}
	return s, true
}
