package flow

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed strings.json
var stringsJSON []byte

// StepStrings holds the text of one step.
type StepStrings struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Data        map[string]string `json:"data"`
}

// Section holds the text of one flow kind.
type Section struct {
	Step  map[string]StepStrings `json:"step"`
	Error map[string]string      `json:"error"`
	Abort map[string]string      `json:"abort"`
}

// Strings is the user-visible text of all flows.
type Strings struct {
	Config     Section           `json:"config"`
	Options    Section           `json:"options"`
	FieldError map[string]string `json:"field_error"`
	TestStatus map[string]string `json:"test_status"`
}

// LoadStrings parses the embedded strings resource.
func LoadStrings() (*Strings, error) {
	var s Strings
	if err := json.Unmarshal(stringsJSON, &s); err != nil {
		return nil, fmt.Errorf("failed to parse strings resource: %w", err)
	}
	return &s, nil
}

func (s *Strings) section(k Kind) Section {
	if k == KindOptions {
		return s.Options
	}
	return s.Config
}

// render fills the human readable parts of res in place.
func (s *Strings) render(k Kind, res *Result) {
	sec := s.section(k)

	switch res.Type {
	case ResultForm:
		step := sec.Step[res.StepID]
		res.Title = step.Title
		res.Description = expand(step.Description, res.Placeholders)
		for i := range res.Schema {
			if label, ok := step.Data[res.Schema[i].Name]; ok {
				res.Schema[i].Label = label
			}
		}
		if len(res.Errors) > 0 {
			res.ErrorMessages = make(map[string]string, len(res.Errors))
			for field, key := range res.Errors {
				msg, ok := sec.Error[key]
				if !ok {
					msg = s.FieldError[key]
				}
				if msg == "" {
					msg = key
				}
				res.ErrorMessages[field] = msg
			}
		}
	case ResultAbort:
		if msg, ok := sec.Abort[res.Reason]; ok {
			res.Description = msg
		}
	}
}

func expand(text string, placeholders map[string]string) string {
	if len(placeholders) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(placeholders))
	for k, v := range placeholders {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
