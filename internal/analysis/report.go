package analysis

import (
	"encoding/json"
	"errors"
)

// Result is what the terminal result message carried. Analysis is the structured
// scan report; Report is the detailed human-readable report, when present.
type Result struct {
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Report   json.RawMessage `json:"report,omitempty"`
}

// ScanReport is a typed view of the structured analysis.
type ScanReport struct {
	Meta            ScanMeta         `json:"meta"`
	FinalVerdict    FinalVerdict     `json:"final_verdict"`
	ContentAnalysis ContentAnalysis  `json:"content_analysis"`
	MediaAnalysis   MediaAnalysis    `json:"media_analysis"`
	CrossReferences []CrossReference `json:"cross_references"`
}

type ScanMeta struct {
	ScanID           string  `json:"scan_id"`
	Timestamp        string  `json:"timestamp"`
	URLScanned       string  `json:"url_scanned"`
	AgentVersion     string  `json:"agent_version"`
	ScanDurationMS   int64   `json:"scan_duration_ms"`
	ModelUsed        string  `json:"model_used"`
	ModelProvider    string  `json:"model_provider"`
	ModelTemperature float64 `json:"model_temperature"`
}

type FinalVerdict struct {
	Status              string          `json:"status"`
	Label               string          `json:"label"`
	OverallScore        *float64        `json:"overall_score"`
	ConfidenceScore     *float64        `json:"confidence_score"`
	SummaryStatement    string          `json:"summary_statement"`
	ContributingFactors json.RawMessage `json:"contributing_factors,omitempty"`
}

type ContentAnalysis struct {
	CredibilityScore *CredibilityScore `json:"credibility_score"`
	SourceReputation json.RawMessage   `json:"source_reputation,omitempty"`
	PoliticalBias    *PoliticalBias    `json:"political_bias"`
	Claims           []Claim           `json:"claims_list"`
}

type CredibilityScore struct {
	Value      float64 `json:"value"`
	RatingText string  `json:"rating_text"`
	ColorCode  string  `json:"color_code"`
}

type PoliticalBias struct {
	Rating     string  `json:"rating"`
	Confidence float64 `json:"confidence"`
}

type Claim struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Status             string   `json:"status"`
	Confidence         *float64 `json:"confidence"`
	VerificationSource *string  `json:"verification_source"`
	Note               *string  `json:"note"`
	SupportedByMediaID *string  `json:"supported_by_media_id"`
}

type MediaAnalysis struct {
	DeepfakeProbabilityAvg float64         `json:"deepfake_probability_avg"`
	Assets                 json.RawMessage `json:"assets,omitempty"`
}

type CrossReference struct {
	Type               string `json:"type"`
	PrimaryElementID   string `json:"primary_element_id"`
	SecondaryElementID string `json:"secondary_element_id"`
	Description        string `json:"description"`
}

// Scan decodes the structured analysis. Backends that send a different shape
// yield an error; the raw JSON stays available on Result.
func (r *Result) Scan() (*ScanReport, error) {
	if r == nil || len(r.Analysis) == 0 {
		return nil, errors.New("no analysis in result")
	}
	var report ScanReport
	if err := json.Unmarshal(r.Analysis, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
