package classifier

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/pbaille/grundsalg/internal/domain"
)

// cleanJSON removes markdown code fences and any prose around the object
func cleanJSON(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start >= 0 && end > start {
		resp = resp[start : end+1]
	}
	return resp
}

type classificationPayload struct {
	Relevant   *bool    `json:"relevant"`
	Confidence *float64 `json:"confidence"`
	Category   *string  `json:"category"`
	Reason     string   `json:"reason"`
}

type extractionPayload struct {
	IsPropertyListing *bool    `json:"is_property_listing"`
	Confidence        *float64 `json:"confidence"`
	Title             string   `json:"title"`
	Municipality      string   `json:"municipality"`
	Summary           string   `json:"summary"`
}

func parseClassification(resp string) (domain.ClassificationResult, error) {
	raw := cleanJSON(resp)

	var p classificationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.ClassificationResult{}, &domain.ParseError{Msg: fmt.Sprintf("invalid json: %v", err), Raw: raw}
	}
	if p.Relevant == nil {
		return domain.ClassificationResult{}, &domain.ParseError{Field: "relevant", Msg: "missing", Raw: raw}
	}
	if err := checkConfidence(p.Confidence, raw); err != nil {
		return domain.ClassificationResult{}, err
	}
	if p.Category == nil {
		return domain.ClassificationResult{}, &domain.ParseError{Field: "category", Msg: "missing", Raw: raw}
	}
	category := strings.ToLower(strings.TrimSpace(*p.Category))
	if !slices.Contains(Categories, category) {
		return domain.ClassificationResult{}, &domain.ParseError{Field: "category", Msg: fmt.Sprintf("unknown category %q", *p.Category), Raw: raw}
	}

	return domain.ClassificationResult{
		Relevant:   *p.Relevant,
		Confidence: *p.Confidence,
		Category:   category,
		Reason:     strings.TrimSpace(p.Reason),
	}, nil
}

func parseExtraction(resp string) (domain.ExtractionResult, error) {
	raw := cleanJSON(resp)

	var p extractionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.ExtractionResult{}, &domain.ParseError{Msg: fmt.Sprintf("invalid json: %v", err), Raw: raw}
	}
	if p.IsPropertyListing == nil {
		return domain.ExtractionResult{}, &domain.ParseError{Field: "is_property_listing", Msg: "missing", Raw: raw}
	}
	if err := checkConfidence(p.Confidence, raw); err != nil {
		return domain.ExtractionResult{}, err
	}

	return domain.ExtractionResult{
		IsPropertyListing: *p.IsPropertyListing,
		Confidence:        *p.Confidence,
		Title:             strings.TrimSpace(p.Title),
		Municipality:      strings.TrimSpace(p.Municipality),
		Summary:           strings.TrimSpace(p.Summary),
	}, nil
}

func checkConfidence(c *float64, raw string) error {
	if c == nil {
		return &domain.ParseError{Field: "confidence", Msg: "missing", Raw: raw}
	}
	if *c < 0 || *c > 1 {
		return &domain.ParseError{Field: "confidence", Msg: fmt.Sprintf("%v out of range [0,1]", *c), Raw: raw}
	}
	return nil
}
