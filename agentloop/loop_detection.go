package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// DefaultLoopDetectionWindow is the number of recent tool calls examined.
const DefaultLoopDetectionWindow = 6

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments). encoding/json sorts map keys, so equal
// parameter maps hash the same.
func toolCallSignature(name string, params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", params))
	}
	h := sha256.Sum256(b)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(observations []Observation, windowSize int) bool {
	if windowSize <= 1 || len(observations) < windowSize {
		return false
	}

	recent := observations[len(observations)-windowSize:]
	sigs := make([]string, len(recent))
	for i, obs := range recent {
		sigs[i] = toolCallSignature(obs.ToolName, obs.Params)
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize == patternLen {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
