package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseKind names the structured output that failed to parse.
type ParseKind string

const (
	ParsePlan    ParseKind = "plan"
	ParseReport  ParseKind = "report"
	ParseVerdict ParseKind = "verdict"
)

// ParseError reports capability output that does not match its schema.
type ParseError struct {
	Kind ParseKind
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Fatal reports whether the run cannot continue after this failure. Plans and
// reports have no fallback; a bad verdict falls back to default routing.
func (e *ParseError) Fatal() bool { return e.Kind != ParseVerdict }

// extractJSON strips surrounding prose and markdown fences from model output.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func decodeStrict(raw string, dst any) error {
	body := extractJSON(raw)
	if body == "" {
		return errors.New("empty output")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// ParseResearchPlan decodes and validates planner output.
func ParseResearchPlan(raw string) (ResearchPlan, error) {
	var p ResearchPlan
	if err := decodeStrict(raw, &p); err != nil {
		return ResearchPlan{}, &ParseError{Kind: ParsePlan, Raw: raw, Err: err}
	}
	if err := p.Validate(); err != nil {
		return ResearchPlan{}, &ParseError{Kind: ParsePlan, Raw: raw, Err: err}
	}
	return p, nil
}

// ParseResearchReport decodes and validates drafting output.
func ParseResearchReport(raw string) (ResearchReport, error) {
	var r ResearchReport
	if err := decodeStrict(raw, &r); err != nil {
		return ResearchReport{}, &ParseError{Kind: ParseReport, Raw: raw, Err: err}
	}
	if err := r.Validate(); err != nil {
		return ResearchReport{}, &ParseError{Kind: ParseReport, Raw: raw, Err: err}
	}
	return r, nil
}

// ParseReviewVerdict decodes reviewer output. next_action and is_satisfactory
// are mandatory.
func ParseReviewVerdict(raw string) (ReviewVerdict, error) {
	var shape struct {
		ReviewVerdict
		IsSatisfactory *bool          `json:"is_satisfactory"`
		NextAction     *RoutingAction `json:"next_action"`
	}
	if err := decodeStrict(raw, &shape); err != nil {
		return ReviewVerdict{}, &ParseError{Kind: ParseVerdict, Raw: raw, Err: err}
	}
	var missing []error
	if shape.NextAction == nil {
		missing = append(missing, errors.New("next_action is required"))
	}
	if shape.IsSatisfactory == nil {
		missing = append(missing, errors.New("is_satisfactory is required"))
	}
	if len(missing) > 0 {
		return ReviewVerdict{}, &ParseError{Kind: ParseVerdict, Raw: raw, Err: errors.Join(missing...)}
	}
	v := shape.ReviewVerdict
	v.NextAction = *shape.NextAction
	v.IsSatisfactory = *shape.IsSatisfactory
	return v, nil
}
