// Package analyzer scores captured payloads against the detection pattern
// library. Scoring is deterministic: for a fixed pattern set and input it
// returns identical findings and risk score on every call.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/pattern"
)

// DetectorVersion is stamped on every finding so downstream consumers can
// correlate findings with the rule set that produced them.
const DetectorVersion = "mamori/1"

// maxEvidenceLen bounds each evidence snippet. Long matches are truncated
// around the matched region to keep span attribute cardinality bounded.
const maxEvidenceLen = 160

// evidenceContext is how many bytes of surrounding text each snippet keeps.
const evidenceContext = 40

// Analyzer evaluates payload text against cached detection patterns.
type Analyzer struct {
	cache *pattern.Cache
}

// New creates an analyzer reading patterns through the given cache.
func New(cache *pattern.Cache) *Analyzer {
	return &Analyzer{cache: cache}
}

// Analyze scores payload against the given categories. It returns the risk
// score (max over findings of severity weight x confidence, 0 with no
// findings) and the findings ordered by category then pattern name.
//
// The context is checked between categories so an analysis timeout cancels
// promptly without aborting the exchange that produced the payload.
func (a *Analyzer) Analyze(ctx context.Context, payload string, categories []model.Category) (float64, []model.VulnerabilityFinding, error) {
	if strings.TrimSpace(payload) == "" {
		return 0, nil, &model.AnalysisError{
			Kind: model.ErrKindInsufficientData,
			Err:  fmt.Errorf("analyzer: empty payload"),
		}
	}

	var findings []model.VulnerabilityFinding
	for _, category := range categories {
		select {
		case <-ctx.Done():
			return 0, nil, &model.AnalysisTimeoutError{}
		default:
		}

		patterns, err := a.cache.Get(category)
		if err != nil {
			if model.AlwaysRaise(err) {
				return 0, nil, err
			}
			return 0, nil, &model.NetworkError{Op: "pattern lookup", Err: err}
		}

		for _, p := range patterns {
			loc := p.Regex.FindStringIndex(payload)
			if loc == nil {
				continue
			}
			findings = append(findings, model.VulnerabilityFinding{
				Category:         p.Category,
				Severity:         p.Severity,
				Confidence:       p.Confidence,
				MatchedPatterns:  []string{p.Name},
				EvidenceSnippets: []string{snippet(payload, loc[0], loc[1])},
				Remediation:      p.Remediation,
				DetectorVersion:  DetectorVersion,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Category != findings[j].Category {
			return findings[i].Category < findings[j].Category
		}
		return findings[i].MatchedPatterns[0] < findings[j].MatchedPatterns[0]
	})

	return riskScore(findings), findings, nil
}

// riskScore is the maximum single-finding contribution, floored at 0.
func riskScore(findings []model.VulnerabilityFinding) float64 {
	var score float64
	for _, f := range findings {
		if c := f.RiskContribution(); c > score {
			score = c
		}
	}
	if score > 10 {
		score = 10
	}
	return score
}

// snippet extracts a bounded excerpt of payload around the matched region.
func snippet(payload string, start, end int) string {
	from := start - evidenceContext
	if from < 0 {
		from = 0
	}
	to := end + evidenceContext
	if to > len(payload) {
		to = len(payload)
	}
	s := payload[from:to]
	if len(s) > maxEvidenceLen {
		s = s[:maxEvidenceLen]
	}
	return s
}
