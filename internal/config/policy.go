package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

//go:embed policy.cue
var policySchema string

// Policies is everything a policy file configures.
type Policies struct {
	Detectors reasoning.Policy
	Causal    trace.Policy
	Streaming reasoning.StreamingConfig
}

// DefaultPolicies returns the stock detector, causal, and streaming
// settings.
func DefaultPolicies() Policies {
	return Policies{
		Detectors: reasoning.DefaultPolicy(),
		Causal:    trace.DefaultPolicy(),
		Streaming: reasoning.DefaultStreamingConfig(),
	}
}

// PolicyError reports an invalid policy file.
type PolicyError struct {
	Path    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("policy %s: %s", e.Path, e.Message)
	}
	return "policy: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *PolicyError) Unwrap() error {
	return e.Err
}

// IsPolicyError returns true if err is a PolicyError.
// Uses errors.As to handle wrapped errors.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// LoadPolicy reads a CUE policy file and returns the resulting settings.
// An empty path yields DefaultPolicies.
func LoadPolicy(path string) (Policies, error) {
	if path == "" {
		return DefaultPolicies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, &PolicyError{Path: path, Message: "cannot read file", Err: err}
	}
	return ParsePolicy(path, data)
}

// ParsePolicy unifies src with the embedded schema and decodes it. name is
// used in error positions.
func ParsePolicy(name string, src []byte) (Policies, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(policySchema, cue.Filename("policy.cue"))
	if err := schema.Err(); err != nil {
		return Policies{}, fmt.Errorf("compile policy schema: %w", err)
	}

	user := ctx.CompileBytes(src, cue.Filename(name))
	if err := user.Err(); err != nil {
		return Policies{}, &PolicyError{Path: name, Message: cueMessage(err), Err: err}
	}

	v := schema.LookupPath(cue.ParsePath("#Policy")).Unify(user)
	if err := v.Validate(); err != nil {
		return Policies{}, &PolicyError{Path: name, Message: cueMessage(err), Err: err}
	}

	var f policyFile
	if err := v.Decode(&f); err != nil {
		return Policies{}, &PolicyError{Path: name, Message: cueMessage(err), Err: err}
	}
	p, err := f.policies()
	if err != nil {
		return Policies{}, &PolicyError{Path: name, Message: err.Error(), Err: err}
	}
	return p, nil
}

// cueMessage flattens a CUE error list into one line per error.
func cueMessage(err error) string {
	return cueerrors.Details(err, nil)
}

// policyFile mirrors #Policy. Durations stay strings until policies()
// parses them.
type policyFile struct {
	Detectors struct {
		DrainMinEvents           int     `json:"drainMinEvents"`
		DrainWindow              string  `json:"drainWindow"`
		EscrowMinEvents          int     `json:"escrowMinEvents"`
		EscrowMinFailures        int     `json:"escrowMinFailures"`
		EscrowWindow             string  `json:"escrowWindow"`
		GovernanceInactivity     string  `json:"governanceInactivity"`
		LatencyMinEvents         int     `json:"latencyMinEvents"`
		LatencyWindow            string  `json:"latencyWindow"`
		ErrorClusterMin          int     `json:"errorClusterMin"`
		ErrorClusterWindow       string  `json:"errorClusterWindow"`
		CrossModuleMinCategories int     `json:"crossModuleMinCategories"`
		CrossModuleMinErrors     int     `json:"crossModuleMinErrors"`
		AnomalyMinHistory        int     `json:"anomalyMinHistory"`
		AnomalyWarningZ          float64 `json:"anomalyWarningZ"`
		AnomalyCriticalZ         float64 `json:"anomalyCriticalZ"`
		BaselineMaxAge           string  `json:"baselineMaxAge"`
		TrendWindow              string  `json:"trendWindow"`
		TrendMinPoints           int     `json:"trendMinPoints"`
		TrendHorizon             string  `json:"trendHorizon"`
		TrendGrowthFactor        float64 `json:"trendGrowthFactor"`
		TrendWarningFactor       float64 `json:"trendWarningFactor"`
	} `json:"detectors"`

	Causal struct {
		TimeWeight         float64 `json:"timeWeight"`
		PrincipalWeight    float64 `json:"principalWeight"`
		TagWeight          float64 `json:"tagWeight"`
		SourceWeight       float64 `json:"sourceWeight"`
		CausalThreshold    float64 `json:"causalThreshold"`
		TriggeredMaxGap    string  `json:"triggeredMaxGap"`
		CausedByMinOverlap float64 `json:"causedByMinOverlap"`
	} `json:"causal"`

	Streaming *struct {
		Triggers []struct {
			Name      string  `json:"name"`
			Type      string  `json:"type"`
			Condition string  `json:"condition"`
			Threshold float64 `json:"threshold"`
			Enabled   bool    `json:"enabled"`
			Cooldown  string  `json:"cooldown"`
		} `json:"triggers"`
		Windows []struct {
			Name      string `json:"name"`
			Size      string `json:"size"`
			Slide     string `json:"slide"`
			Threshold int    `json:"threshold"`
		} `json:"windows"`
	} `json:"streaming,omitempty"`
}

// durations parses CUE duration strings, collecting the first failure.
type durations struct{ err error }

func (d *durations) parse(field, s string) time.Duration {
	v, err := time.ParseDuration(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func (f *policyFile) policies() (Policies, error) {
	var d durations
	det := f.Detectors
	p := Policies{
		Detectors: reasoning.Policy{
			DrainMinEvents:           det.DrainMinEvents,
			DrainWindow:              d.parse("detectors.drainWindow", det.DrainWindow),
			EscrowMinEvents:          det.EscrowMinEvents,
			EscrowMinFailures:        det.EscrowMinFailures,
			EscrowWindow:             d.parse("detectors.escrowWindow", det.EscrowWindow),
			GovernanceInactivity:     d.parse("detectors.governanceInactivity", det.GovernanceInactivity),
			LatencyMinEvents:         det.LatencyMinEvents,
			LatencyWindow:            d.parse("detectors.latencyWindow", det.LatencyWindow),
			ErrorClusterMin:          det.ErrorClusterMin,
			ErrorClusterWindow:       d.parse("detectors.errorClusterWindow", det.ErrorClusterWindow),
			CrossModuleMinCategories: det.CrossModuleMinCategories,
			CrossModuleMinErrors:     det.CrossModuleMinErrors,
			AnomalyMinHistory:        det.AnomalyMinHistory,
			AnomalyWarningZ:          det.AnomalyWarningZ,
			AnomalyCriticalZ:         det.AnomalyCriticalZ,
			BaselineMaxAge:           d.parse("detectors.baselineMaxAge", det.BaselineMaxAge),
			TrendWindow:              d.parse("detectors.trendWindow", det.TrendWindow),
			TrendMinPoints:           det.TrendMinPoints,
			TrendHorizon:             d.parse("detectors.trendHorizon", det.TrendHorizon),
			TrendGrowthFactor:        det.TrendGrowthFactor,
			TrendWarningFactor:       det.TrendWarningFactor,
		},
		Causal: trace.Policy{
			TimeWeight:         f.Causal.TimeWeight,
			PrincipalWeight:    f.Causal.PrincipalWeight,
			TagWeight:          f.Causal.TagWeight,
			SourceWeight:       f.Causal.SourceWeight,
			CausalThreshold:    f.Causal.CausalThreshold,
			TriggeredMaxGap:    d.parse("causal.triggeredMaxGap", f.Causal.TriggeredMaxGap),
			CausedByMinOverlap: f.Causal.CausedByMinOverlap,
		},
		Streaming: reasoning.DefaultStreamingConfig(),
	}

	if s := f.Streaming; s != nil {
		p.Streaming = reasoning.StreamingConfig{
			Triggers: []reasoning.Trigger{},
			Windows:  []reasoning.SlidingWindow{},
		}
		for _, t := range s.Triggers {
			typ, err := reasoning.ParseTriggerType(t.Type)
			if err != nil {
				return Policies{}, fmt.Errorf("trigger %s: %w", t.Name, err)
			}
			p.Streaming.Triggers = append(p.Streaming.Triggers, reasoning.Trigger{
				Name:      t.Name,
				Type:      typ,
				Condition: t.Condition,
				Threshold: t.Threshold,
				Enabled:   t.Enabled,
				Cooldown:  d.parse("trigger "+t.Name+" cooldown", t.Cooldown),
			})
		}
		for _, w := range s.Windows {
			p.Streaming.Windows = append(p.Streaming.Windows, reasoning.SlidingWindow{
				Name:      w.Name,
				Size:      d.parse("window "+w.Name+" size", w.Size),
				Slide:     d.parse("window "+w.Name+" slide", w.Slide),
				Threshold: w.Threshold,
			})
		}
	}

	if d.err != nil {
		return Policies{}, d.err
	}
	return p, nil
}
