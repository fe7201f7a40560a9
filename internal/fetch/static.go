package fetch

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// StaticOpener serves candidates from an in-memory fixture. It backs dry
// runs (FETCH_MODE=static) and tests.
type StaticOpener struct {
	mu       sync.Mutex
	fixtures map[string][]domain.Candidate
	errs     map[string]error
}

func NewStaticOpener() *StaticOpener {
	return &StaticOpener{
		fixtures: make(map[string][]domain.Candidate),
		errs:     make(map[string]error),
	}
}

type staticFile struct {
	Results []struct {
		Term     string `yaml:"term"`
		Region   string `yaml:"region"`
		Listings []struct {
			ID       string `yaml:"id"`
			Title    string `yaml:"title"`
			Price    string `yaml:"price"`
			URL      string `yaml:"url"`
			Location string `yaml:"location"`
			Image    string `yaml:"image"`
		} `yaml:"listings"`
	} `yaml:"results"`
}

// LoadStaticFile reads a YAML fixture of the form
//
//	results:
//	  - term: honda civic
//	    region: saopaulo
//	    listings:
//	      - {id: "1001", title: "Honda Civic 2015", price: "R$ 60.000", url: "https://..."}
func LoadStaticFile(path string) (*StaticOpener, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read fixture: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fetch: parse fixture: %w", err)
	}

	o := NewStaticOpener()
	for _, r := range f.Results {
		var cs []domain.Candidate
		for _, l := range r.Listings {
			cs = append(cs, domain.Candidate{
				SourceID: l.ID,
				Title:    l.Title,
				Price:    l.Price,
				URL:      l.URL,
				Location: l.Location,
				ImageURL: l.Image,
			})
		}
		o.Set(r.Term, r.Region, cs...)
	}
	return o, nil
}

// Set replaces the candidates returned for term and region.
func (o *StaticOpener) Set(term, region string, cs ...domain.Candidate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fixtures[staticKey(term, region)] = append([]domain.Candidate(nil), cs...)
	delete(o.errs, staticKey(term, region))
}

// Fail makes fetches for term and region return err.
func (o *StaticOpener) Fail(term, region string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[staticKey(term, region)] = err
}

func (o *StaticOpener) Open(ctx context.Context) (Session, error) {
	return &staticSession{opener: o}, nil
}

func staticKey(term, region string) string {
	return term + "\x00" + region
}

type staticSession struct {
	opener *StaticOpener
}

func (s *staticSession) Fetch(ctx context.Context, term, region string, limit int) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}

	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()

	key := staticKey(term, region)
	if err, ok := s.opener.errs[key]; ok {
		return nil, Classify(err)
	}
	cs := s.opener.fixtures[key]
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	out := make([]domain.Candidate, len(cs))
	copy(out, cs)
	return out, nil
}

func (s *staticSession) Close() error {
	return nil
}
