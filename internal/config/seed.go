package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dalexandrias/marketwatch/internal/interval"
)

// Seed is the content of a seed file: keywords and regions to create on
// first start or with "marketwatch seed FILE".
//
//	keywords:
//	  - term: honda civic
//	    interval: 2m
//	regions:
//	  - name: Sao Paulo
//	    slug: saopaulo
type Seed struct {
	Keywords []SeedKeyword `yaml:"keywords"`
	Regions  []SeedRegion  `yaml:"regions"`
}

type SeedKeyword struct {
	Term string `yaml:"term"`
	// Interval accepts seconds, a Go duration or a cron expression. Empty
	// means DEFAULT_INTERVAL.
	Interval string `yaml:"interval"`
	Active   *bool  `yaml:"active"`

	// Parsed is set by LoadSeed; zero when Interval is empty.
	Parsed time.Duration `yaml:"-"`
}

type SeedRegion struct {
	Name   string `yaml:"name"`
	Slug   string `yaml:"slug"`
	Active *bool  `yaml:"active"`
}

// IsActive defaults to true when the field is omitted.
func (k SeedKeyword) IsActive() bool { return k.Active == nil || *k.Active }

func (r SeedRegion) IsActive() bool { return r.Active == nil || *r.Active }

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("seed: read: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML. Unknown fields are rejected.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("seed: parse: %w", err)
	}

	var errs ValidationErrors
	parser := interval.NewParser()
	seenTerms := make(map[string]bool)
	for i := range s.Keywords {
		k := &s.Keywords[i]
		k.Term = strings.TrimSpace(k.Term)
		field := fmt.Sprintf("keywords[%d]", i)
		if k.Term == "" {
			errs = append(errs, ValidationError{Field: field, Message: "term is required"})
			continue
		}
		if seenTerms[strings.ToLower(k.Term)] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate term %q", k.Term)})
		}
		seenTerms[strings.ToLower(k.Term)] = true
		if k.Interval != "" {
			d, err := parser.Parse(k.Interval)
			if err != nil {
				errs = append(errs, ValidationError{Field: field + ".interval", Message: err.Error()})
			}
			k.Parsed = d
		}
	}

	seenSlugs := make(map[string]bool)
	for i := range s.Regions {
		r := &s.Regions[i]
		r.Slug = strings.ToLower(strings.TrimSpace(r.Slug))
		r.Name = strings.TrimSpace(r.Name)
		field := fmt.Sprintf("regions[%d]", i)
		if r.Slug == "" {
			errs = append(errs, ValidationError{Field: field, Message: "slug is required"})
			continue
		}
		if seenSlugs[r.Slug] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate slug %q", r.Slug)})
		}
		seenSlugs[r.Slug] = true
		if r.Name == "" {
			r.Name = r.Slug
		}
	}

	if len(errs) > 0 {
		return Seed{}, errs
	}
	return s, nil
}
