package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxTermLength = 200

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// validateCreateKeyword returns the normalized term and the interval to store.
func (h *Handler) validateCreateKeyword(req CreateKeywordRequest) (string, time.Duration, error) {
	term := strings.Join(strings.Fields(req.Term), " ")
	if term == "" {
		return "", 0, fmt.Errorf("term is required")
	}
	if len(term) > maxTermLength {
		return "", 0, fmt.Errorf("term exceeds %d characters", maxTermLength)
	}

	if req.Interval == "" {
		return term, h.defaultInterval, nil
	}
	every, err := h.parser.Parse(req.Interval)
	if err != nil {
		return "", 0, fmt.Errorf("invalid interval: %w", err)
	}
	return term, every, nil
}

// validateCreateRegion lowercases the slug and defaults the name to it.
func validateCreateRegion(req CreateRegionRequest) (string, string, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		return "", "", fmt.Errorf("slug is required")
	}
	if !slugPattern.MatchString(slug) {
		return "", "", fmt.Errorf("invalid slug: use letters, digits, '-' or '_'")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = slug
	}
	return name, slug, nil
}
