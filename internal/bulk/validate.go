package bulk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// Recording ids are case/LAN numbers. The pattern also keeps them safe to use
// as file names and object keys.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// SubmitRequest is the input to Submit. An empty Kind means KindValidate.
type SubmitRequest struct {
	Identifiers []string
	RequestedBy string
	Kind        model.Kind
}

// validate applies the strict policy: duplicates are rejected, never
// silently merged.
func validate(in SubmitRequest, maxBatch int) error {
	if strings.TrimSpace(in.RequestedBy) == "" {
		return &model.ValidationError{Field: "requested_by", Message: "submitter identity is required"}
	}
	if !in.Kind.IsValid() {
		return &model.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown request kind %q", in.Kind)}
	}
	if len(in.Identifiers) == 0 {
		return &model.ValidationError{Field: "identifiers", Message: "at least one identifier is required"}
	}
	if len(in.Identifiers) > maxBatch {
		return &model.ValidationError{
			Field:   "identifiers",
			Message: fmt.Sprintf("at most %d identifiers per request, got %d", maxBatch, len(in.Identifiers)),
		}
	}
	seen := make(map[string]struct{}, len(in.Identifiers))
	for i, id := range in.Identifiers {
		if !identifierPattern.MatchString(id) {
			return &model.ValidationError{
				Field:   "identifiers",
				Message: fmt.Sprintf("identifier %d (%q) is not a valid recording id", i, id),
			}
		}
		if _, dup := seen[id]; dup {
			return &model.ValidationError{Field: "identifiers", Message: fmt.Sprintf("duplicate identifier %q", id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Aggregate derives the terminal status from item outcomes alone, so the
// order in which workers finished never matters.
func Aggregate(items []model.ItemResult) model.Status {
	succeeded := 0
	for _, item := range items {
		if item.Outcome == model.OutcomeSuccess {
			succeeded++
		}
	}
	switch {
	case len(items) == 0 || succeeded == 0:
		return model.StatusFailed
	case succeeded == len(items):
		return model.StatusCompleted
	default:
		return model.StatusPartialSuccess
	}
}
