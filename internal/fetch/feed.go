package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// FeedOpener opens sessions against sources that publish search results as
// RSS or Atom. The URL template renders the feed URL.
type FeedOpener struct {
	opts Options
}

func NewFeedOpener(opts Options) *FeedOpener {
	return &FeedOpener{opts: opts.withDefaults()}
}

func (o *FeedOpener) Open(ctx context.Context) (Session, error) {
	p := gofeed.NewParser()
	p.UserAgent = o.opts.UserAgent
	return &feedSession{opts: o.opts, parser: p}, nil
}

type feedSession struct {
	opts   Options
	parser *gofeed.Parser
}

func (s *feedSession) Fetch(ctx context.Context, term, region string, limit int) ([]domain.Candidate, error) {
	feedURL := SearchURL(s.opts.URLTemplate, term, region)

	parsed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == 401 || httpErr.StatusCode == 403 || httpErr.StatusCode == 429 {
				return nil, Blocked(httpErr)
			}
			return nil, Classify(httpErr)
		}
		if ctx.Err() != nil {
			return nil, Classify(ctx.Err())
		}
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, ParseFailure(err)
		}
		return nil, Classify(fmt.Errorf("parse %s: %w", feedURL, err))
	}

	var out []domain.Candidate
	seen := make(map[string]bool)
	for _, item := range parsed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		id := item.GUID
		if m := s.opts.IDPattern.FindStringSubmatch(item.Link); len(m) >= 2 {
			id = m[1]
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		c := domain.Candidate{
			SourceID: id,
			Title:    item.Title,
			URL:      item.Link,
		}
		if item.Image != nil {
			c.ImageURL = item.Image.URL
		}
		if p := priceRe.FindString(item.Title + " " + item.Description); p != "" {
			c.Price = p
		}
		if c.Title == "" {
			c.Title = "Listing #" + id
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *feedSession) Close() error {
	return nil
}
