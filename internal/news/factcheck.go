package news

import (
	"context"
	"fmt"

	"google.golang.org/api/factchecktools/v1alpha1"
	"google.golang.org/api/option"
)

// FactCheck is a claim some fact-checker has reviewed.
type FactCheck struct {
	Text      string   `json:"text"`
	Claimant  string   `json:"claimant,omitempty"`
	ClaimDate string   `json:"claim_date,omitempty"`
	Reviews   []Review `json:"claim_review"`
}

type Review struct {
	Publisher     string `json:"publisher"`
	PublisherSite string `json:"publisher_site,omitempty"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	ReviewDate    string `json:"review_date,omitempty"`
	TextualRating string `json:"textual_rating"`
	LanguageCode  string `json:"language_code"`
}

// GoogleFactCheck searches the Google Fact Check Tools claim index.
type GoogleFactCheck struct {
	svc *factchecktools.Service
}

// NewGoogleFactCheck builds a client authenticated with an API key. Extra options
// are passed through, e.g. option.WithEndpoint in tests.
func NewGoogleFactCheck(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GoogleFactCheck, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := factchecktools.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fact check client: %w", err)
	}
	return &GoogleFactCheck{svc: svc}, nil
}

func (g *GoogleFactCheck) SearchClaims(ctx context.Context, claim, language string, pageSize int) ([]FactCheck, error) {
	call := g.svc.Claims.Search().Query(claim).Context(ctx)
	if language != "" {
		call = call.LanguageCode(language)
	}
	if pageSize > 0 {
		call = call.PageSize(int64(pageSize))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("fact check search failed: %w", err)
	}

	checks := make([]FactCheck, 0, len(resp.Claims))
	for _, c := range resp.Claims {
		if c == nil {
			continue
		}
		check := FactCheck{
			Text:      c.Text,
			Claimant:  c.Claimant,
			ClaimDate: c.ClaimDate,
			Reviews:   make([]Review, 0, len(c.ClaimReview)),
		}
		for _, r := range c.ClaimReview {
			if r == nil {
				continue
			}
			review := Review{
				URL:           r.Url,
				Title:         r.Title,
				ReviewDate:    r.ReviewDate,
				TextualRating: r.TextualRating,
				LanguageCode:  r.LanguageCode,
			}
			if r.Publisher != nil {
				review.Publisher = r.Publisher.Name
				review.PublisherSite = r.Publisher.Site
			}
			check.Reviews = append(check.Reviews, review)
		}
		checks = append(checks, check)
	}
	return checks, nil
}
