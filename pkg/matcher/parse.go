// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	hubneterrors "github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/identity"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|yaml|yml)?[ \\t]*\\n?(.*?)```")

// modelOutput is the shape models are asked to answer with, either as JSON
// or as YAML.
type modelOutput struct {
	Status  string       `json:"status" yaml:"status"`
	Agents  []modelAgent `json:"agents" yaml:"agents"`
	Message string       `json:"message" yaml:"message"`
}

type modelAgent struct {
	Name     string `json:"name" yaml:"name"`
	Location struct {
		IP   string     `json:"ip" yaml:"ip"`
		Port flexString `json:"port" yaml:"port"`
	} `json:"location" yaml:"location"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// extractBlock returns the first fenced code block, or the whole text.
func extractBlock(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func parseOutput(text string) (modelOutput, error) {
	var out modelOutput
	block := extractBlock(text)
	if block == "" {
		return out, hubneterrors.New(hubneterrors.CodeMatcher, "empty model output", nil)
	}
	if strings.HasPrefix(block, "{") {
		if err := json.Unmarshal([]byte(block), &out); err == nil {
			return out, nil
		}
		out = modelOutput{}
	}
	if err := yaml.Unmarshal([]byte(block), &out); err != nil {
		return out, hubneterrors.New(hubneterrors.CodeMatcher, "unparsable model output", err)
	}
	return out, nil
}

// ParseOutcome decodes a match answer. Status "Find" (or "Found") with at
// least one agent is Found; anything else is NotFound.
func ParseOutcome(text string) (Outcome, error) {
	out, err := parseOutput(text)
	if err != nil {
		return Outcome{}, err
	}
	status := strings.ToLower(strings.TrimSpace(out.Status))
	if status != "find" && status != "found" {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("matcher answered %q", out.Status)
		}
		return Outcome{Message: msg}, nil
	}
	picks := make([]identity.Node, 0, len(out.Agents))
	for _, a := range out.Agents {
		if a.Name == "" {
			continue
		}
		picks = append(picks, identity.New(a.Name, a.Location.IP, string(a.Location.Port)))
	}
	if len(picks) == 0 {
		return Outcome{Message: "matcher answered Find without agents"}, nil
	}
	return Outcome{Found: true, Picks: picks}, nil
}

// ParseCategories decodes a classification answer: {"agents":[{"name":..}]}.
func ParseCategories(text string) ([]string, error) {
	out, err := parseOutput(text)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Agents))
	for _, a := range out.Agents {
		if n := strings.TrimSpace(a.Name); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}
