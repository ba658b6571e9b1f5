package trace

import (
	"fmt"
	"strings"
	"time"
)

// Policy holds the causal scoring weights and thresholds.
type Policy struct {
	TimeWeight      float64 `json:"time_weight"`
	PrincipalWeight float64 `json:"principal_weight"`
	TagWeight       float64 `json:"tag_weight"`
	SourceWeight    float64 `json:"source_weight"`

	// CausalThreshold is the score a pair must exceed to become an edge.
	CausalThreshold float64 `json:"causal_threshold"`

	// TriggeredMaxGap and CausedByMinOverlap pick the relationship of an
	// inferred edge.
	TriggeredMaxGap    time.Duration `json:"triggered_max_gap"`
	CausedByMinOverlap float64       `json:"caused_by_min_overlap"`
}

// DefaultPolicy returns the documented scoring weights.
func DefaultPolicy() Policy {
	return Policy{
		TimeWeight:         0.4,
		PrincipalWeight:    0.3,
		TagWeight:          0.2,
		SourceWeight:       0.1,
		CausalThreshold:    0.7,
		TriggeredMaxGap:    time.Minute,
		CausedByMinOverlap: 0.5,
	}
}

// DefaultConfidence is reported for traces with no causal edges.
const DefaultConfidence = 0.5

const (
	sameSourceCorrelation    = 0.5
	unknownSourceCorrelation = 0.1
)

// sourceCorrelation is the static pairwise affinity between modules. It is
// symmetric; lookups normalize the pair order.
var sourceCorrelation = map[[2]string]float64{
	{"payment", "wallet"}:      0.9,
	{"user", "wallet"}:         0.8,
	{"escrow", "wallet"}:       0.8,
	{"escrow", "payment"}:      0.7,
	{"payment", "user"}:        0.6,
	{"governance", "treasury"}: 0.7,
	{"audit", "compliance"}:    0.7,
	{"router", "user"}:         0.6,
	{"memory", "reasoning"}:    0.6,
	{"insight", "reasoning"}:   0.7,
}

// SourceCorrelation returns the affinity between two source modules.
func SourceCorrelation(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return sameSourceCorrelation
	}
	if v, ok := sourceCorrelation[[2]string{a, b}]; ok {
		return v
	}
	if v, ok := sourceCorrelation[[2]string{b, a}]; ok {
		return v
	}
	return unknownSourceCorrelation
}

func timeProximity(gap time.Duration) float64 {
	switch {
	case gap <= time.Minute:
		return 0.8
	case gap <= 5*time.Minute:
		return 0.6
	case gap <= time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

func principalMatch(a, b string) float64 {
	if a != "" && a == b {
		return 0.5
	}
	return 0
}

// tagOverlap is the number of shared tags divided by the size of the larger
// tag set. Two untagged links overlap by zero.
func tagOverlap(a, b []string) float64 {
	sa, sb := tagSet(a), tagSet(b)
	larger := max(len(sa), len(sb))
	if larger == 0 {
		return 0
	}
	shared := 0
	for t := range sa {
		if sb[t] {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

func tagSet(tags []string) map[string]bool {
	s := make(map[string]bool, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}

// causalScore is the weighted evidence that two links are causally related.
type causalScore struct {
	gap       time.Duration
	time      float64
	principal float64
	overlap   float64
	source    float64
	total     float64
}

func (p Policy) score(earlier, later Link) causalScore {
	s := causalScore{gap: later.Timestamp.Sub(earlier.Timestamp)}
	s.time = timeProximity(s.gap)
	s.principal = principalMatch(earlier.Principal, later.Principal)
	s.overlap = tagOverlap(earlier.Tags, later.Tags)
	s.source = SourceCorrelation(earlier.Source, later.Source)
	s.total = p.TimeWeight*s.time +
		p.PrincipalWeight*s.principal +
		p.TagWeight*s.overlap +
		p.SourceWeight*s.source
	return s
}

// relationship classifies an edge that passed the threshold: a tight gap
// with the same principal is a trigger, high tag overlap is a cause, and
// anything else is merely related.
func (p Policy) relationship(s causalScore) Relationship {
	switch {
	case s.gap <= p.TriggeredMaxGap && s.principal > 0:
		return RelTriggered
	case s.overlap >= p.CausedByMinOverlap:
		return RelCausedBy
	default:
		return RelRelatedTo
	}
}

// infer returns the causal edge between a and b when their score exceeds the
// threshold. The edge runs from the earlier link to the later one; on equal
// timestamps a, the link registered first, is the origin.
func (p Policy) infer(a, b Link) (CausalLink, bool) {
	earlier, later := a, b
	if b.Timestamp.Before(a.Timestamp) {
		earlier, later = b, a
	}
	s := p.score(earlier, later)
	if s.total <= p.CausalThreshold {
		return CausalLink{}, false
	}
	rel := p.relationship(s)
	return CausalLink{
		FromEntryID:  earlier.EntryID,
		ToEntryID:    later.EntryID,
		TraceID:      earlier.TraceID,
		Relationship: rel,
		Confidence:   min(s.total, 1),
		TimeGap:      s.gap,
		Description: fmt.Sprintf("%s -> %s %s after %s (time %.2f, principal %.2f, tags %.2f, source %.2f)",
			earlier.Source, later.Source, rel, s.gap, s.time, s.principal, s.overlap, s.source),
	}, true
}
