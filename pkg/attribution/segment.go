package attribution

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// segment is a compiled record filter.
//
// Expressions see the record's columns by name plus an attributes map:
//
//	attributes["browser"] == "chrome" and not is_holdback
//	event_name in ["purchase", "signup"] and revenue > 0
//
// A nil segment accepts every record.
type segment struct {
	source  string
	program *vm.Program
}

func compileSegment(src string) (*segment, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidSegment, Field: "segment", Value: err.Error()}
	}
	return &segment{source: src, program: program}, nil
}

func (s *segment) match(env map[string]any) (bool, error) {
	if s == nil {
		return true, nil
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("segment must evaluate to bool (got %T)", out)
	}
	return ok, nil
}

func (s *segment) matchDecision(d *Decision) (bool, error) {
	if s == nil {
		return true, nil
	}
	return s.match(map[string]any{
		"visitor_id":     d.VisitorID,
		"session_id":     d.SessionID,
		"experiment_id":  d.ExperimentID,
		"variation_id":   d.VariationID,
		"is_holdback":    d.IsHoldback,
		"timestamp":      d.Timestamp,
		"attributes":     attributeMap(d.Attributes),
		"account_id":     d.AccountID,
		"campaign_id":    d.CampaignID,
		"user_ip":        d.UserIP,
		"user_agent":     d.UserAgent,
		"referer":        d.Referer,
		"client_engine":  d.ClientEngine,
		"client_version": d.ClientVersion,
	})
}

func (s *segment) matchConversion(c *Conversion) (bool, error) {
	if s == nil {
		return true, nil
	}
	var revenue int64
	if c.Revenue != nil {
		revenue = *c.Revenue
	}
	tags := make(map[string]any, len(c.Tags))
	for k, v := range c.Tags {
		tags[k] = v
	}
	return s.match(map[string]any{
		"visitor_id":     c.VisitorID,
		"session_id":     c.SessionID,
		"event_name":     c.EventName,
		"event_type":     c.EventType,
		"timestamp":      c.Timestamp,
		"revenue":        revenue,
		"tags":           tags,
		"attributes":     attributeMap(c.Attributes),
		"account_id":     c.AccountID,
		"entity_id":      c.EntityID,
		"user_ip":        c.UserIP,
		"user_agent":     c.UserAgent,
		"referer":        c.Referer,
		"client_engine":  c.ClientEngine,
		"client_version": c.ClientVersion,
	})
}
