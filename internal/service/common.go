package service

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"experimentservice/internal/apperr"
	"experimentservice/internal/audit"
	"experimentservice/internal/auth"
)

// Free-form documents (metadata, params) are checked for size and nesting only.
const (
	maxDocumentBytes = 64 * 1024
	maxDocumentDepth = 16
	maxTags          = 64
	maxTagLength     = 64
	maxNameLength    = 255
)

const (
	ReasonInvalidInput = "invalid_input"
	ReasonNotFoundIDs  = "not_found"
)

const systemActor = "system"

func actorOf(id auth.Identity) audit.Actor {
	return audit.Actor{UserID: id.UserID, Role: id.Role}
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

func requireUUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return apperr.Validation(ReasonInvalidInput, "%s must be a uuid", field)
	}
	return nil
}

func cleanName(field, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperr.Validation(ReasonInvalidInput, "%s is required", field)
	}
	if len(name) > maxNameLength {
		return "", apperr.Validation(ReasonInvalidInput, "%s must be at most %d characters", field, maxNameLength)
	}
	return name, nil
}

// document validates a JSON object and returns it ready for a jsonb column.
// An empty input becomes {}.
func document(field string, raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return datatypes.JSON("{}"), nil
	}
	if len(trimmed) > maxDocumentBytes {
		return nil, apperr.Validation(ReasonInvalidInput, "%s exceeds %d bytes", field, maxDocumentBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperr.Validation(ReasonInvalidInput, "%s must be valid JSON", field)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, apperr.Validation(ReasonInvalidInput, "%s must be a JSON object", field)
	}
	if depth(v) > maxDocumentDepth {
		return nil, apperr.Validation(ReasonInvalidInput, "%s nests deeper than %d levels", field, maxDocumentDepth)
	}
	return datatypes.JSON(trimmed), nil
}

func depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		d := 0
		for _, child := range t {
			d = max(d, depth(child))
		}
		return d + 1
	case []any:
		d := 0
		for _, child := range t {
			d = max(d, depth(child))
		}
		return d + 1
	}
	return 0
}

// normalizeTags trims, drops empties, deduplicates and sorts.
func normalizeTags(tags []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, apperr.Validation(ReasonInvalidInput, "tag %q is longer than %d characters", tag, maxTagLength)
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > maxTags {
		return nil, apperr.Validation(ReasonInvalidInput, "at most %d tags are allowed", maxTags)
	}
	sort.Strings(out)
	return out, nil
}

func tagsJSON(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	return datatypes.JSON(raw)
}

func decodeTags(raw datatypes.JSON) []string {
	var tags []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &tags)
	}
	return tags
}

func uniqueIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func newID() string {
	return uuid.NewString()
}
