package fetch

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

var (
	priceRe      = regexp.MustCompile(`(US\$|R\$|€|\$)\s*[\d.,]+`)
	pricePrefix  = regexp.MustCompile(`^(US\$|R\$|€|\$)\s*\d`)
	distancePref = regexp.MustCompile(`(?i)^\d+\s*(km|mi|miles)\b`)
)

// ExtractCandidates parses an HTML search result page. Elements matching the
// item selector whose link does not carry a source id are skipped; duplicate
// ids within the page are reported once.
func ExtractCandidates(r io.Reader, pageURL string, opts Options, limit int) ([]domain.Candidate, error) {
	opts = opts.withDefaults()

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, ParseFailure(fmt.Errorf("read document: %w", err))
	}

	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	var out []domain.Candidate

	doc.Find(opts.ItemSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}

		href, ok := s.Attr("href")
		if !ok {
			href, ok = s.Find("a").First().Attr("href")
		}
		if !ok {
			return true
		}
		link := resolve(base, href)

		m := opts.IDPattern.FindStringSubmatch(link)
		if len(m) < 2 || seen[m[1]] {
			return true
		}
		seen[m[1]] = true

		c := domain.Candidate{
			SourceID: m[1],
			URL:      link,
			Price:    findPrice(s),
			Title:    findTitle(s),
			Location: findLocation(s),
		}
		if src, ok := s.Find("img").First().Attr("src"); ok && strings.HasPrefix(src, "http") {
			c.ImageURL = src
		}
		if c.Title == "" {
			if c.Price != "" {
				c.Title = "Listing - " + c.Price
			} else {
				c.Title = "Listing #" + c.SourceID
			}
		}
		out = append(out, c)
		return true
	})

	return out, nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func texts(s *goquery.Selection) []string {
	var out []string
	s.Find("span").Each(func(_ int, e *goquery.Selection) {
		if t := strings.TrimSpace(e.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func findTitle(s *goquery.Selection) string {
	for _, t := range texts(s) {
		if len(t) <= 5 || pricePrefix.MatchString(t) || distancePref.MatchString(t) {
			continue
		}
		if len(t) > 200 {
			t = t[:200]
		}
		return t
	}
	return ""
}

func findPrice(s *goquery.Selection) string {
	for _, t := range texts(s) {
		if p := priceRe.FindString(t); p != "" {
			return p
		}
	}
	return ""
}

func findLocation(s *goquery.Selection) string {
	ts := texts(s)
	// Cards render title, price, location in that order; the location is the
	// last short text that is neither price nor title.
	for i := len(ts) - 1; i >= 0; i-- {
		t := ts[i]
		if len(t) < 100 && !priceRe.MatchString(t) && strings.Contains(t, ",") {
			return t
		}
	}
	return ""
}
