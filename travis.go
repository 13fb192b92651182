package main

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Structure definitions for Travis CI webhook notifications.

type TravisRepository struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name"`
	OwnerName string `json:"owner_name,omitempty"`
	URL       string `json:"url,omitempty"`
}

// TravisPayload is the build result carried in the "payload" field of a
// Travis webhook request. Status and Duration are null for builds that
// have not finished.
type TravisPayload struct {
	ID            int              `json:"id,omitempty"`
	Number        BuildNumber      `json:"number"`
	Type          string           `json:"type,omitempty"`
	State         string           `json:"state,omitempty"`
	BuildURL      string           `json:"build_url"`
	Status        *int             `json:"status"`
	StatusMessage string           `json:"status_message"`
	Duration      *int             `json:"duration"`
	Repository    TravisRepository `json:"repository"`
	Commit        string           `json:"commit"`
	Branch        string           `json:"branch"`
	Message       string           `json:"message"`
	AuthorName    string           `json:"author_name"`
	AuthorEmail   string           `json:"author_email,omitempty"`
	CompareURL    string           `json:"compare_url,omitempty"`
	StartedAt     string           `json:"started_at,omitempty"`
	FinishedAt    string           `json:"finished_at,omitempty"`
}

// BuildNumber keeps the textual form of a build number. Travis sends it as a
// string, older fixtures send it as a number.
type BuildNumber string

func (n *BuildNumber) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = BuildNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("build number must be a string or a number: %s", string(b))
	}
	*n = BuildNumber(num.String())
	return nil
}

func (n BuildNumber) String() string {
	return string(n)
}

// requiredPayloadFields are the gjson paths that must be present in every
// payload. A missing field fails the request instead of formatting a zero value.
var requiredPayloadFields = []string{
	"number",
	"build_url",
	"status",
	"status_message",
	"duration",
	"repository.name",
	"commit",
	"branch",
	"message",
	"author_name",
}

// ParseTravisPayload decodes a verified payload string.
func ParseTravisPayload(payload string) (*TravisPayload, error) {
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedPayload)
	}
	results := gjson.GetMany(payload, requiredPayloadFields...)
	for i, result := range results {
		if !result.Exists() {
			return nil, fmt.Errorf("%w: missing field %s", ErrMalformedPayload, requiredPayloadFields[i])
		}
	}
	p := &TravisPayload{}
	if err := json.Unmarshal([]byte(payload), p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	return p, nil
}
