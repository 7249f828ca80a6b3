package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talgya/evo-world/internal/species"
	"github.com/talgya/evo-world/internal/traits"
)

type fakeAdviser struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	delay    time.Duration
	answer   func(Request) (*Response, error)
}

func (f *fakeAdviser) Advise(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.answer(req)
}

func traitRequest(code species.Code) Request {
	return Request{
		Role:   RoleTraitProposal,
		Code:   code,
		Traits: TraitMap(traits.Uniform(5)),
		Budget: Budget{SumCap: 80, StepMagnitude: 2},
	}
}

func TestValidate(t *testing.T) {
	reg := traits.NewRegistry("venom")
	child := Request{
		Role:   RoleSpeciesGeneration,
		Traits: TraitMap(traits.Uniform(5)),
		Budget: Budget{SumCap: 70, Thresholds: map[string]float64{"cold_tolerance": 9}},
	}
	tests := []struct {
		name string
		resp *Response
		req  Request
		want error
	}{
		{"valid delta", &Response{Delta: traits.Delta{"heat_tolerance": 1, "defense": -1}}, traitRequest("A1"), nil},
		{"extension delta", &Response{Delta: traits.Delta{"venom": 1}}, traitRequest("A1"), nil},
		{"empty delta", &Response{}, traitRequest("A1"), ErrMalformed},
		{"unknown trait", &Response{Delta: traits.Delta{"telepathy": 1}}, traitRequest("A1"), ErrMalformed},
		{"over step", &Response{Delta: traits.Delta{"heat_tolerance": 3}}, traitRequest("A1"), ErrBudget},
		{"valid child", &Response{Traits: map[string]float64{"cold_tolerance": 10}}, child, nil},
		{"child below threshold", &Response{Traits: map[string]float64{"cold_tolerance": 8}}, child, ErrBudget},
		{"child over sum", &Response{Traits: map[string]float64{"cold_tolerance": 15, "defense": 15, "heat_tolerance": 15}}, child, ErrBudget},
		{"child out of range", &Response{Traits: map[string]float64{"cold_tolerance": 16}}, child, ErrMalformed},
		{"empty narrative", &Response{}, Request{Role: RoleNarrative}, ErrMalformed},
		{"narrative", &Response{Text: "The reef dims."}, Request{Role: RoleNarrative}, nil},
		{"nil", nil, traitRequest("A1"), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.resp, tt.req, reg)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	text := "Here you go:\n```json\n{\"delta\": {\"heat_tolerance\": 0.5}, \"reasoning\": \"warming\"}\n```"
	resp, err := parseResponse(RoleTraitProposal, text)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Delta["heat_tolerance"] != 0.5 {
		t.Errorf("delta = %v", resp.Delta)
	}

	if _, err := parseResponse(RoleTraitProposal, "no idea"); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing JSON: got %v", err)
	}

	resp, err = parseResponse(RoleNarrative, "  The herds thin along the dry rivers.  ")
	if err != nil || resp.Text != "The herds thin along the dry rivers." {
		t.Errorf("plain narrative: %v %+v", err, resp)
	}
}

func TestChildVector(t *testing.T) {
	parent := traits.Uniform(5)
	resp := &Response{Traits: map[string]float64{"cold_tolerance": 11, "venom": 4}}
	v := resp.ChildVector(parent)
	if v.Get(traits.ColdTolerance) != 11 || v.Ext["venom"] != 4 {
		t.Errorf("child = %+v", v)
	}
	if parent.Get(traits.ColdTolerance) != 5 || parent.Ext != nil {
		t.Error("parent was modified")
	}
}

func TestPoolOrderAndLimit(t *testing.T) {
	f := &fakeAdviser{
		delay: 5 * time.Millisecond,
		answer: func(req Request) (*Response, error) {
			if req.Code == "B1" {
				return &Response{Delta: traits.Delta{"telepathy": 1}}, nil
			}
			return &Response{Delta: traits.Delta{"heat_tolerance": 1}}, nil
		},
	}
	p := NewPool(f, traits.NewRegistry(), 3, time.Second)
	codes := []species.Code{"A1", "B1", "C1", "D1", "E1", "F1", "G1"}
	reqs := make([]Request, len(codes))
	for i, c := range codes {
		reqs[i] = traitRequest(c)
	}

	results := p.Run(context.Background(), reqs)
	if len(results) != len(codes) {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Request.Code != codes[i] {
			t.Errorf("result %d is %s, want %s", i, r.Request.Code, codes[i])
		}
	}
	if !results[1].Fallback() || !errors.Is(results[1].Err, ErrMalformed) {
		t.Errorf("invalid proposal not rejected: %+v", results[1])
	}
	if results[0].Fallback() {
		t.Errorf("valid proposal rejected: %v", results[0].Err)
	}
	if f.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", f.peak)
	}
}

func TestPoolTimeout(t *testing.T) {
	f := &fakeAdviser{
		delay: time.Second,
		answer: func(Request) (*Response, error) {
			return &Response{Delta: traits.Delta{"heat_tolerance": 1}}, nil
		},
	}
	p := NewPool(f, traits.NewRegistry(), 2, 10*time.Millisecond)
	start := time.Now()
	results := p.Run(context.Background(), []Request{traitRequest("A1"), traitRequest("B1")})
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("pool did not honour per-call timeout")
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.DeadlineExceeded) {
			t.Errorf("%s: got %v, want deadline exceeded", r.Request.Code, r.Err)
		}
	}
}

func TestPoolRuleAdviser(t *testing.T) {
	p := NewPool(nil, traits.NewRegistry(), 3, time.Second)
	results := p.Run(context.Background(), []Request{traitRequest("A1")})
	if !results[0].Fallback() || !errors.Is(results[0].Err, ErrNoAdvice) {
		t.Errorf("rule adviser result = %+v", results[0])
	}
}

func TestClientDisabled(t *testing.T) {
	var c *Client
	if c.Enabled() {
		t.Fatal("nil client reports enabled")
	}
	if _, err := c.Complete(context.Background(), "", "", 10); !errors.Is(err, ErrDisabled) {
		t.Errorf("got %v, want ErrDisabled", err)
	}
	if _, ok := NewClientAdviser(NewClient("", "", 0), nil).(RuleAdviser); !ok {
		t.Error("key-less adviser should fall back to rules")
	}
}

func TestClientAdviser(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model != "test-model" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": `{"delta": {"cold_tolerance": 1.5, "defense": -0.5}}`}},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-model", 1)
	c.url = srv.URL
	a := NewClientAdviser(c, traits.NewRegistry())

	resp, err := a.Advise(context.Background(), traitRequest("A1"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Delta["cold_tolerance"] != 1.5 {
		t.Errorf("delta = %v", resp.Delta)
	}

	if _, err := a.Advise(context.Background(), traitRequest("A1")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second call: got %v, want rate limit", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}
