// Package title pulls article headlines out of Ming Pao HTML.
package title

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/unicode/norm"
)

// Decode returns html as UTF-8 text. Bytes that are not valid UTF-8 are
// treated as Big5, the encoding the source site serves.
func Decode(html []byte) string {
	if utf8.Valid(html) {
		return string(html)
	}
	decoded, err := traditionalchinese.Big5.NewDecoder().Bytes(html)
	if err != nil {
		return strings.ToValidUTF8(string(html), "�")
	}
	return string(decoded)
}

// Extract returns the og:title or <title> text, or nil when neither is present.
func Extract(html []byte) *string {
	if len(html) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(Decode(html))))
	if err != nil {
		return nil
	}

	candidates := []string{
		doc.Find(`meta[property="og:title"]`).First().AttrOr("content", ""),
		doc.Find("title").First().Text(),
	}
	for _, c := range candidates {
		if clean := Clean(c); clean != "" {
			return &clean
		}
	}
	return nil
}

// Clean collapses whitespace runs and normalizes to NFC.
func Clean(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
