package router

import (
	"fmt"
	"sort"
	"strings"
)

// Candidate is one industry the prompt's wording points at.
type Candidate struct {
	Industry string   `json:"industry"`
	Score    int      `json:"score"`
	Triggers []string `json:"triggers,omitempty"`
}

// Inference is the outcome of InferIndustry.
type Inference struct {
	Industry   string      `json:"industry"`
	Confidence float64     `json:"confidence"`
	Reasons    []string    `json:"reasons,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// InferIndustry scores industries by trigger phrases found in prompt. An
// empty Industry means nothing matched.
func InferIndustry(prompt string, industries map[string][]string) Inference {
	promptLower := strings.ToLower(prompt)

	var candidates []Candidate
	for industry, triggers := range industries {
		var matched []string
		for _, trig := range triggers {
			if containsTrigger(promptLower, strings.ToLower(trig)) {
				matched = append(matched, trig)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Industry: industry, Score: len(matched), Triggers: matched})
	}

	if len(candidates) == 0 {
		return Inference{Reasons: []string{"no industry triggers matched"}}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Industry < candidates[j].Industry
		}
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	topScore := candidates[0].Score
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = candidates[1].Score
	}

	margin := float64(topScore-secondScore) / float64(max(topScore, 1))
	strength := float64(min(topScore, 5)) / 5.0
	confidence := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		confidence = max(confidence, 0.9)
	}
	if topScore >= 3 {
		confidence = min(confidence+0.15, 1.0)
	}

	return Inference{
		Industry:   candidates[0].Industry,
		Confidence: confidence,
		Reasons:    []string{fmt.Sprintf("top_score=%d second_score=%d", topScore, secondScore)},
		Candidates: candidates,
	}
}
