package viewset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SubType is one of the closed set of subscription types from spec.md §6.1.
type SubType string

const (
	AllIssues        SubType = "all-issues"
	Epics            SubType = "epics"
	IssuesForEpic    SubType = "issues-for-epic"
	BlockedIssues    SubType = "blocked-issues"
	ReadyIssues      SubType = "ready-issues"
	InProgressIssues SubType = "in-progress-issues"
	ClosedIssues     SubType = "closed-issues"
)

// ErrUnknownSubType is returned when a subscription type is not in the
// closed set above.
type ErrUnknownSubType struct {
	Type string
}

func (e ErrUnknownSubType) Error() string {
	return fmt.Sprintf("unknown subscription type %q", e.Type)
}

// ErrMissingParam is returned when a required param is absent.
type ErrMissingParam struct {
	Type  string
	Param string
}

func (e ErrMissingParam) Error() string {
	return fmt.Sprintf("subscription type %q requires param %q", e.Type, e.Param)
}

// Argv returns the tracker CLI argv for (subType, params), per the
// type->argv table in spec.md §4.2.
func Argv(subType SubType, params Params) ([]string, error) {
	switch subType {
	case AllIssues:
		return []string{"list", "--json"}, nil
	case Epics:
		return []string{"list", "--json", "--type", "epic"}, nil
	case IssuesForEpic:
		epicID, ok := params["epic_id"].(string)
		if !ok || epicID == "" {
			return nil, ErrMissingParam{Type: string(subType), Param: "epic_id"}
		}
		return []string{"list", "--json", "--epic", epicID}, nil
	case BlockedIssues:
		return []string{"blocked", "--json"}, nil
	case ReadyIssues:
		return []string{"ready", "--json"}, nil
	case InProgressIssues:
		return []string{"list", "--json", "--status", "in_progress"}, nil
	case ClosedIssues:
		return []string{"list", "--json", "--status", "closed"}, nil
	default:
		return nil, ErrUnknownSubType{Type: string(subType)}
	}
}

// ShowIssueArgv returns the argv for a single-issue detail fetch
// (spec.md §4.1's show-issue subscription).
func ShowIssueArgv(id string) []string {
	return []string{"show", id, "--json"}
}

// EpicStatusArgv returns the argv for an epic-status request.
func EpicStatusArgv(epicID string) []string {
	return []string{"epic-status", epicID, "--json"}
}

// ErrNotFound is returned by NormalizeSingle when the tracker reports
// no matching issue (an empty array), per spec.md §4.7's not-found vs
// tracker-failed distinction.
var ErrNotFound = errors.New("viewset: issue not found")

// NormalizeSingle normalizes `show --json`'s output to a single Issue.
// The tracker may return either a JSON object or a JSON array (empty
// when not found, one element otherwise), per spec.md §4.7.
func NormalizeSingle(stdout []byte) (Issue, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return Issue{}, fmt.Errorf("viewset: parse tracker array: %w", err)
		}
		if len(raws) == 0 {
			return Issue{}, ErrNotFound
		}
		issue, ok := normalizeRaw(raws[0])
		if !ok {
			return Issue{}, fmt.Errorf("viewset: tracker object missing usable id")
		}
		return issue, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Issue{}, fmt.Errorf("viewset: parse tracker object: %w", err)
	}
	issue, ok := normalizeRaw(raw)
	if !ok {
		return Issue{}, fmt.Errorf("viewset: tracker object missing usable id")
	}
	return issue, nil
}

// Normalize parses the tracker's JSON array output into a slice of
// Issue, applying the closed-issues "since" pre-filter before any
// diffing happens (per spec.md §4.2: "this filter is applied before the
// diff so that 'since' windows produce predictable snapshots").
func Normalize(subType SubType, params Params, stdout []byte) ([]Issue, error) {
	var raws []map[string]json.RawMessage
	if err := json.Unmarshal(stdout, &raws); err != nil {
		return nil, fmt.Errorf("viewset: parse tracker output: %w", err)
	}

	issues := make([]Issue, 0, len(raws))
	for _, raw := range raws {
		issue, ok := normalizeRaw(raw)
		if !ok {
			continue
		}
		issues = append(issues, issue)
	}

	if subType == ClosedIssues {
		issues = filterClosedSince(issues, params)
	}

	return issues, nil
}

// filterClosedSince keeps only items whose closed_at is present and
// >= since, when params.since is a finite positive number.
func filterClosedSince(issues []Issue, params Params) []Issue {
	since, ok := positiveSince(params)
	if !ok {
		return issues
	}

	filtered := issues[:0]
	for _, issue := range issues {
		if issue.ClosedAt != nil && *issue.ClosedAt >= since {
			filtered = append(filtered, issue)
		}
	}
	return filtered
}

func positiveSince(params Params) (int64, bool) {
	raw, present := params["since"]
	if !present {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	case int:
		if v > 0 {
			return int64(v), true
		}
	}
	return 0, false
}
