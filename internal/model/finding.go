package model

// Category classifies a vulnerability finding. The set is closed: detectors
// register patterns under one of these categories and the analyzer rejects
// unknown ones at pack load time.
type Category string

const (
	CategoryPromptInjection  Category = "prompt_injection"
	CategoryInsecureOutput   Category = "insecure_output"
	CategoryDataExfiltration Category = "data_exfiltration"
	CategoryModelDoS         Category = "model_dos"
	CategorySensitiveInfo    Category = "sensitive_info_disclosure"
)

// Categories lists every known category in stable order.
func Categories() []Category {
	return []Category{
		CategoryPromptInjection,
		CategoryInsecureOutput,
		CategoryDataExfiltration,
		CategoryModelDoS,
		CategorySensitiveInfo,
	}
}

// KnownCategory reports whether c is a member of the closed category set.
func KnownCategory(c Category) bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// Severity grades a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityWeight maps a severity to its risk weight. The span risk score is
// the maximum of weight x confidence over all findings.
func SeverityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	default:
		return 0
	}
}

// VulnerabilityFinding is one detection result. Findings are owned by their
// parent span and ordered deterministically (by category, then pattern name).
type VulnerabilityFinding struct {
	Category         Category `json:"category"`
	Severity         Severity `json:"severity"`
	Confidence       float64  `json:"confidence"` // 0..1
	MatchedPatterns  []string `json:"matched_patterns"`
	EvidenceSnippets []string `json:"evidence_snippets,omitempty"`
	Remediation      string   `json:"remediation,omitempty"`
	DetectorVersion  string   `json:"detector_version"`
}

// RiskContribution is this finding's contribution to the span risk score.
func (f VulnerabilityFinding) RiskContribution() float64 {
	return SeverityWeight(f.Severity) * f.Confidence
}
