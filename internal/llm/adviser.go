package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
)

var (
	// ErrNoAdvice is returned by advisers that never answer. Callers fall
	// back to the rule-based path.
	ErrNoAdvice = errors.New("no advice")
	// ErrMalformed marks a response with unknown traits, non-finite values,
	// or missing fields.
	ErrMalformed = errors.New("malformed advice")
	// ErrBudget marks a response that exceeds the caller's budget.
	ErrBudget = errors.New("advice exceeds budget")
)

// Role selects what the adviser is asked for.
type Role string

const (
	RoleNarrative         Role = "narrative"
	RoleTraitProposal     Role = "trait_proposal"
	RoleSpeciesGeneration Role = "species_generation"
)

// Budget bounds what a response may propose.
type Budget struct {
	SumCap        float64            `json:"sum_cap"`
	StepMagnitude float64            `json:"step_magnitude,omitempty"`
	Thresholds    map[string]float64 `json:"thresholds,omitempty"`
}

// RegionSummary describes one eco-geo region to the adviser.
type RegionSummary struct {
	Terrain     string  `json:"terrain"`
	Tiles       int     `json:"tiles"`
	Population  int64   `json:"population"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Resource    float64 `json:"resource"`
	Depth       float64 `json:"depth,omitempty"`
}

// Request is one adviser call.
type Request struct {
	Role         Role               `json:"role"`
	Code         species.Code       `json:"code"`
	Name         string             `json:"name"`
	Turn         int                `json:"turn"`
	TrophicLevel float64            `json:"trophic_level"`
	Population   int64              `json:"population"`
	Traits       map[string]float64 `json:"traits"`
	Target       map[string]float64 `json:"target,omitempty"`
	Regions      []RegionSummary    `json:"regions,omitempty"`
	Events       []string           `json:"events,omitempty"`
	Budget       Budget             `json:"budget"`
	Timeout      time.Duration      `json:"-"`
}

// Response is a validated adviser answer. Which fields are set depends on
// the request role.
type Response struct {
	Delta       traits.Delta       `json:"delta,omitempty"`
	Traits      map[string]float64 `json:"traits,omitempty"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Text        string             `json:"text,omitempty"`
}

// Adviser answers requests. Implementations must honour ctx.
type Adviser interface {
	Advise(ctx context.Context, req Request) (*Response, error)
}

// RuleAdviser never advises. It stands in when no client is configured.
type RuleAdviser struct{}

// Advise always returns ErrNoAdvice.
func (RuleAdviser) Advise(context.Context, Request) (*Response, error) {
	return nil, ErrNoAdvice
}

// TraitMap flattens a vector into named values.
func TraitMap(v traits.Vector) map[string]float64 {
	out := make(map[string]float64, int(traits.NumSlots)+len(v.Ext))
	for i, x := range v.Core {
		out[traits.Slot(i).String()] = x
	}
	for k, x := range v.Ext {
		out[k] = x
	}
	return out
}

// Validate checks resp against req. A response that fails is rejected as a
// whole.
func Validate(resp *Response, req Request, reg *traits.Registry) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrMalformed)
	}
	switch req.Role {
	case RoleTraitProposal:
		if len(resp.Delta) == 0 {
			return fmt.Errorf("%w: empty delta", ErrMalformed)
		}
		if err := resp.Delta.Validate(reg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if m := resp.Delta.Magnitude(); req.Budget.StepMagnitude > 0 && m > req.Budget.StepMagnitude+1e-9 {
			return fmt.Errorf("%w: magnitude %.3f > %.3f", ErrBudget, m, req.Budget.StepMagnitude)
		}
	case RoleSpeciesGeneration:
		if len(resp.Traits) == 0 && resp.Name == "" {
			return fmt.Errorf("%w: neither traits nor name", ErrMalformed)
		}
		merged := make(map[string]float64, len(req.Traits)+len(resp.Traits))
		for k, x := range req.Traits {
			merged[k] = x
		}
		for name, x := range resp.Traits {
			if !reg.Known(name) {
				return fmt.Errorf("%w: trait %q: %w", ErrMalformed, name, traits.ErrUnknownTrait)
			}
			if math.IsNaN(x) || math.IsInf(x, 0) || x < traits.MinValue || x > traits.MaxValue {
				return fmt.Errorf("%w: trait %q = %v", ErrMalformed, name, x)
			}
			merged[name] = x
		}
		var sum float64
		for _, x := range merged {
			sum += x
		}
		if req.Budget.SumCap > 0 && sum > req.Budget.SumCap+1e-9 {
			return fmt.Errorf("%w: trait sum %.2f > %.2f", ErrBudget, sum, req.Budget.SumCap)
		}
		for name, lo := range req.Budget.Thresholds {
			if merged[name] < lo-1e-9 {
				return fmt.Errorf("%w: %s %.2f below required %.2f", ErrBudget, name, merged[name], lo)
			}
		}
	case RoleNarrative:
		if resp.Text == "" {
			return fmt.Errorf("%w: empty narrative", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrMalformed, req.Role)
	}
	return nil
}

// ChildVector overlays a species-generation response onto the parent's
// traits. Extension names must already be registered.
func (r *Response) ChildVector(parent traits.Vector) traits.Vector {
	out := parent.Clone()
	for name, x := range r.Traits {
		if s, ok := traits.SlotByName(name); ok {
			out.Set(s, x)
			continue
		}
		if out.Ext == nil {
			out.Ext = make(map[string]float64)
		}
		out.Ext[name] = x
	}
	return out
}

// ClientAdviser asks the API for advice.
type ClientAdviser struct {
	client   *Client
	registry *traits.Registry
}

// NewClientAdviser returns an adviser backed by client. With a disabled
// client it returns a RuleAdviser.
func NewClientAdviser(client *Client, reg *traits.Registry) Adviser {
	if !client.Enabled() {
		return RuleAdviser{}
	}
	return &ClientAdviser{client: client, registry: reg}
}

// Advise builds the role's prompt, calls the API, and parses and validates
// the answer.
func (a *ClientAdviser) Advise(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	system, user, maxTokens := buildPrompt(req)
	text, err := a.client.Complete(ctx, system, user, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("advise %s %s: %w", req.Role, req.Code, err)
	}
	resp, err := parseResponse(req.Role, text)
	if err != nil {
		return nil, fmt.Errorf("advise %s %s: %w", req.Role, req.Code, err)
	}
	if err := Validate(resp, req, a.registry); err != nil {
		return nil, fmt.Errorf("advise %s %s: %w", req.Role, req.Code, err)
	}
	return resp, nil
}
