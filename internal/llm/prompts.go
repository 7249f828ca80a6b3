package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const traitScale = `Traits are scored 1 to 15. A species may have at most two traits above 14.`

func buildPrompt(req Request) (system, user string, maxTokens int) {
	switch req.Role {
	case RoleTraitProposal:
		return buildTraitSystemPrompt(req), buildUserPrompt(req, "How should this species adapt this turn? Respond with a single JSON object."), 400
	case RoleSpeciesGeneration:
		return buildChildSystemPrompt(req), buildUserPrompt(req, "Describe the daughter species founded in the diverging region. Respond with a single JSON object."), 600
	}
	return buildNarrativeSystemPrompt(req), buildUserPrompt(req, "Write this turn's chronicle entry."), 300
}

func buildTraitSystemPrompt(req Request) string {
	return fmt.Sprintf(
		`You are an evolutionary biologist advising a turn-based ecosystem simulation. %s

Propose a small change to the traits of species %s (%s) that answers the environmental pressure it faces.

Respond ONLY with a single JSON object:
- "delta": an object mapping trait names to signed changes; its Euclidean length must not exceed %.2f
- "reasoning": one sentence

The species' trait total may not exceed %.0f after the change. Gains in one trait should be paid for by losses in another.`,
		traitScale, req.Code, req.Name, req.Budget.StepMagnitude, req.Budget.SumCap,
	)
}

func buildChildSystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		`You are an evolutionary biologist advising a turn-based ecosystem simulation. %s

Species %s (%s) is splitting. A founder population has become isolated in a region whose environment differs from the rest of its range. Invent the daughter species.

Respond ONLY with a single JSON object:
- "name": a plausible binomial or common name
- "description": 1-2 sentences on how it differs from its parent
- "traits": an object mapping trait names to their new values (omit traits that do not change)

The daughter's trait total may not exceed %.0f.`,
		traitScale, req.Code, req.Name, req.Budget.SumCap,
	)
	if len(req.Budget.Thresholds) > 0 {
		b.WriteString(" It must meet these minimums to survive the region:")
		for _, k := range sortedKeys(req.Budget.Thresholds) {
			fmt.Fprintf(&b, " %s >= %.1f;", k, req.Budget.Thresholds[k])
		}
	}
	return b.String()
}

func buildNarrativeSystemPrompt(req Request) string {
	return fmt.Sprintf(
		`You are the chronicler of a living world. Write 2-3 sentences of natural-history prose about species %s (%s) this turn. Do not mention numbers of traits, code names, or that this is a simulation.`,
		req.Code, req.Name,
	)
}

func buildUserPrompt(req Request, ask string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Turn %d. %s (%s), trophic level %.1f, population %d.\n\n",
		req.Turn, req.Name, req.Code, req.TrophicLevel, req.Population)

	if len(req.Traits) > 0 {
		b.WriteString("Current traits:\n")
		for _, k := range sortedKeys(req.Traits) {
			fmt.Fprintf(&b, "- %s: %.2f", k, req.Traits[k])
			if t, ok := req.Target[k]; ok && t != req.Traits[k] {
				fmt.Fprintf(&b, " (environment favours %.2f)", t)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(req.Regions) > 0 {
		b.WriteString("Regions it occupies:\n")
		for _, r := range req.Regions {
			fmt.Fprintf(&b, "- %s, %d tiles, population %d: temperature %.2f, humidity %.2f, resources %.2f",
				r.Terrain, r.Tiles, r.Population, r.Temperature, r.Humidity, r.Resource)
			if r.Depth > 0 {
				fmt.Fprintf(&b, ", depth %.2f", r.Depth)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(req.Events) > 0 {
		b.WriteString("This turn:\n")
		for _, e := range req.Events {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	b.WriteString(ask)
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// extractJSON returns the outermost JSON object in text.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseResponse(role Role, text string) (*Response, error) {
	raw, ok := extractJSON(text)
	if !ok {
		if role == RoleNarrative && strings.TrimSpace(text) != "" {
			return &Response{Text: strings.TrimSpace(text)}, nil
		}
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrMalformed)
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		if role == RoleNarrative {
			return &Response{Text: strings.TrimSpace(text)}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	resp.Name = strings.TrimSpace(resp.Name)
	resp.Description = strings.TrimSpace(resp.Description)
	resp.Text = strings.TrimSpace(resp.Text)
	return &resp, nil
}
