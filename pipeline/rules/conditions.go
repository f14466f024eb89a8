package rules

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// stringOrList accepts either a JSON string or a JSON string array.
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = []string{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("expected string or list of strings")
	}
	*s = list
	return nil
}

// Conditions is the parsed form of a rule's match_conditions blob.
// Every field is optional; omitted fields don't constrain the match.
// Unknown keys in the blob are ignored here but preserved in storage.
type Conditions struct {
	// Tags match case-sensitively. An empty list means don't care.
	Tags []string `json:"tags"`
	// TagsMatchMode is "any" (default) or "all".
	TagsMatchMode string `json:"tags_match_mode"`

	Platform    stringOrList `json:"platform"`
	ContentType stringOrList `json:"content_type"`

	// IsNSFW is three-state: nil means don't care.
	IsNSFW *bool `json:"is_nsfw"`

	// Expression is an optional CEL predicate over
	// {platform, content_type, tags, is_nsfw, author_name, title}.
	Expression string `json:"expression"`
}

// parseConditions decodes a conditions blob; nil or empty blobs parse
// to the match-everything conditions.
func parseConditions(raw json.RawMessage) (*Conditions, error) {
	conditions := &Conditions{}
	if len(raw) == 0 {
		return conditions, nil
	}
	if err := json.Unmarshal(raw, conditions); err != nil {
		return nil, errors.Wrap(err, "failed to parse match conditions")
	}
	return conditions, nil
}
