package classify

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://tracker.example"

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestFindDetailLinks(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body><table>
		<tr><td><a href="details.php?id=3&hit=1">c</a></td></tr>
		<tr><td><a href="/details/7">g</a></td></tr>
		<tr><td><a href="details.php?id=3&hit=1">c again</a></td></tr>
		<tr><td><a href="https://other.example/view.php?id=9">v</a></td></tr>
		<tr><td><a href="userdetails.php?uid=1">user</a></td></tr>
		<tr><td><a href="download.php?id=3">dl</a></td></tr>
		<tr><td><a>no href</a></td></tr>
	</table></body></html>`)

	links := FindDetailLinks(doc, base)
	assert.Equal(t, []string{
		"https://tracker.example/details.php?id=3&hit=1",
		"https://tracker.example/details/7",
		"https://other.example/view.php?id=9",
	}, links)
}

func TestFindDetailLinksMatchesSubstring(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div id="info_block"><a href="userdetails.php?id=12">me</a></div>`)
	assert.Equal(t, []string{"https://tracker.example/userdetails.php?id=12"}, FindDetailLinks(doc, base))
}

func TestFindDetailLinksEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FindDetailLinks(parse(t, `<p>nothing here</p>`), base))
	assert.Nil(t, FindDetailLinks(nil, base))
}

func TestFindTorrentLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{
			name: "download php",
			html: `<a href="details.php?id=1">d</a><a href="download.php?id=1&passkey=x">dl</a>`,
			want: "https://tracker.example/download.php?id=1&passkey=x",
			ok:   true,
		},
		{
			name: "dot torrent suffix",
			html: `<a href="/files/a.torrent ">t</a><a href="download.php?id=2">dl</a>`,
			want: "https://tracker.example/files/a.torrent",
			ok:   true,
		},
		{
			name: "absent",
			html: `<a href="details.php?id=1">d</a>`,
			ok:   false,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := FindTorrentLink(parse(t, tc.html), base)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAbsoluteURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		href string
		want string
	}{
		{"https://pt.example", "torrents.php", "https://pt.example/torrents.php"},
		{"https://pt.example/", "/torrents.php", "https://pt.example/torrents.php"},
		{"https://pt.example/sub", "details.php?id=1", "https://pt.example/sub/details.php?id=1"},
		{"https://pt.example", "  http://cdn.example/x.torrent ", "http://cdn.example/x.torrent"},
		{"https://pt.example", "https://pt.example/a", "https://pt.example/a"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, AbsoluteURL(tc.base, tc.href), tc.href)
	}
}
