package describe

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/vision"
)

// jsonSpan matches from the first '{' to the last '}' once newlines are flattened.
var jsonSpan = regexp.MustCompile(`(\{.*\})`)

// Verdict is the importance decision for one frame.
type Verdict struct {
	Importance string
	Reason     string
}

// EvaluateImportance decides whether a frame belongs in the summary. Mostly black frames and
// frames whose features could not be computed are rejected without asking the model.
func EvaluateImportance(ctx context.Context, model vision.Model, fr Frame) Verdict {
	if fr.Features.DarkRatio > 0.9 {
		return Verdict{types.NotImportant, "Frame is mostly black (over 90%)"}
	}
	if fr.Features.Error != "" {
		return Verdict{types.NotImportant, "Could not properly analyze frame: " + fr.Features.Error}
	}

	resp, err := model.Generate(ctx, vision.Request{
		System: importanceSystemPrompt,
		Prompt: importanceUserPrompt,
		Image:  fr.JPEG,
		JSON:   true,
	})
	if err != nil {
		return Verdict{types.NotImportant, fmt.Sprintf("Failed to evaluate: %v", err)}
	}
	v, err := ParseImportance(resp)
	if err != nil {
		return Verdict{types.NotImportant, fmt.Sprintf("Error processing response: %v", err)}
	}
	return v
}

// ParseImportance reads the model's answer. A JSON object anywhere in the text wins; otherwise the
// text is classified by keyword and kept whole as the reason.
func ParseImportance(resp string) (Verdict, error) {
	flat := strings.ReplaceAll(resp, "\n", " ")
	if m := jsonSpan.FindString(flat); m != "" {
		var out struct {
			Importance *string `json:"importance"`
			Reason     *string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(m), &out); err != nil {
			return Verdict{}, err
		}
		v := Verdict{Importance: types.NotImportant, Reason: "No reason provided"}
		if out.Importance != nil {
			v.Importance = normalizeImportance(*out.Importance)
		}
		if out.Reason != nil {
			v.Reason = *out.Reason
		}
		return v, nil
	}
	return Verdict{Importance: classifyKeyword(resp), Reason: resp}, nil
}

// classifyKeyword checks the negative forms first since "not_important" contains "important".
func classifyKeyword(s string) string {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "not_important"), strings.Contains(l, "not important"), strings.Contains(l, "unimportant"):
		return types.NotImportant
	case strings.Contains(l, "important"):
		return types.Important
	default:
		return types.NotImportant
	}
}

func normalizeImportance(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), types.Important) {
		return types.Important
	}
	return types.NotImportant
}
