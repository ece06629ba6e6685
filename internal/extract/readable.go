package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

// Output bounds and the thin-content threshold.
const (
	MaxTextRunes     = 8000
	MaxHTMLRunes     = 6000
	MaxH2            = 10
	MinReadableWords = 150
	DefaultLanguage  = "en"
)

// Page is the extracted view of one document.
type Page struct {
	URL         string   `json:"url"`
	CrawlStatus string   `json:"crawl_status"`
	Title       string   `json:"title"`
	Description string   `json:"meta_description"`
	H1          string   `json:"h1"`
	H2          []string `json:"h2_headings"`
	Language    string   `json:"detected_language"`
	CleanText   string   `json:"clean_text"`
	HTMLExcerpt string   `json:"html_excerpt"`
	WordCount   int      `json:"word_count"`
}

// Readable extracts metadata and the main readable text from rawHTML. When
// the readability pass yields fewer than MinReadableWords words the full
// body is tried and whichever has more words wins.
func Readable(rawHTML, pageURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtraction, err, "failed to extract metadata")
	}

	p := &Page{URL: pageURL}
	readMetadata(doc, p)

	cleanHTML, text := readabilityText(rawHTML, pageURL)
	wc := countWords(text)

	if wc < MinReadableWords {
		body := doc.Find("body").First()
		if body.Length() == 0 {
			body = doc.Selection
		}
		fullText := truncateRunes(visibleText(body.Nodes...), MaxTextRunes)
		if fullWC := countWords(fullText); fullWC > wc {
			bodyHTML, err := goquery.OuterHtml(body)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindExtraction, err, "failed to process html")
			}
			cleanHTML, text, wc = bodyHTML, fullText, fullWC
		}
	}

	p.CleanText = text
	p.HTMLExcerpt = truncateRunes(cleanHTML, MaxHTMLRunes)
	p.WordCount = wc
	return p, nil
}

func readMetadata(doc *goquery.Document, p *Page) {
	p.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("name", ""), "description") {
			p.Description = strings.TrimSpace(s.AttrOr("content", ""))
			return false
		}
		return true
	})

	p.H1 = strings.TrimSpace(doc.Find("h1").First().Text())
	doc.Find("h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			p.H2 = append(p.H2, t)
		}
		return len(p.H2) < MaxH2
	})

	p.Language = baseLanguage(doc.Find("html").First().AttrOr("lang", ""))
}

// baseLanguage reduces a BCP 47 tag like "en-US" to its base language.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return DefaultLanguage
	}
	t, err := language.Parse(tag)
	if err != nil {
		return DefaultLanguage
	}
	base, conf := t.Base()
	if conf == language.No {
		return DefaultLanguage
	}
	return base.String()
}

// readabilityText runs the readability pass. A failed pass yields empty
// output so the body fallback takes over.
func readabilityText(rawHTML, pageURL string) (string, string) {
	u, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		zap.L().Debug("extract: readability failed", zap.String("url", pageURL), zap.Error(err))
		return "", ""
	}
	frag, err := html.Parse(strings.NewReader(article.Content))
	if err != nil {
		return article.Content, truncateRunes(article.TextContent, MaxTextRunes)
	}
	return article.Content, truncateRunes(visibleText(frag), MaxTextRunes)
}

var skipText = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "head": true}

// visibleText joins the trimmed, non-empty text nodes under nodes with
// newlines.
func visibleText(nodes ...*html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipText[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
