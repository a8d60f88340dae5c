// Package validate checks caller-supplied chat input before any state is
// mutated. Violations are reported per field.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/model"
)

// userIDRx: lowercase letters, digits, hyphen, underscore, 1-64 chars.
var userIDRx = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

const maxMessageLen = 4000

// FieldErrors maps field names to human-readable violation messages.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return model.ErrValidation }

// ChatRequest validates the inbound chat contract, including profile
// delta caps. Returns nil or a FieldErrors value.
func ChatRequest(req *model.ChatRequest, cfg *config.Config) error {
	fields := FieldErrors{}

	if strings.TrimSpace(req.Message) == "" {
		fields["message"] = "message is required"
	} else if len(req.Message) > maxMessageLen {
		fields["message"] = fmt.Sprintf("message exceeds %d characters", maxMessageLen)
	}
	if req.UserID == "" {
		fields["userId"] = "userId is required"
	} else if !userIDRx.MatchString(req.UserID) {
		fields["userId"] = "userId must be 1-64 lowercase letters, digits, hyphen or underscore"
	}
	if req.SessionID == "" {
		fields["sessionId"] = "sessionId is required"
	}

	if req.Profile != nil {
		validateDelta(req.Profile, cfg, fields)
	}

	if len(fields) > 0 {
		return fields
	}
	return nil
}

func validateDelta(d *model.ProfileDelta, cfg *config.Config, fields FieldErrors) {
	if len(d.Goals) > cfg.MaxGoals {
		fields["profile.goals"] = fmt.Sprintf("at most %d goals allowed", cfg.MaxGoals)
	}
	for i, g := range d.Goals {
		if len(g) > cfg.MaxProfileFieldLen {
			fields[fmt.Sprintf("profile.goals[%d]", i)] = fmt.Sprintf("exceeds %d characters", cfg.MaxProfileFieldLen)
		}
	}
	if len(d.Challenges) > cfg.MaxChallenges {
		fields["profile.challenges"] = fmt.Sprintf("at most %d challenges allowed", cfg.MaxChallenges)
	}
	for i, c := range d.Challenges {
		if len(c) > cfg.MaxProfileFieldLen {
			fields[fmt.Sprintf("profile.challenges[%d]", i)] = fmt.Sprintf("exceeds %d characters", cfg.MaxProfileFieldLen)
		}
	}
	if len(d.CommunicationStyle) > cfg.MaxProfileFieldLen {
		fields["profile.communicationStyle"] = fmt.Sprintf("exceeds %d characters", cfg.MaxProfileFieldLen)
	}
	if len(d.ExperienceLevel) > cfg.MaxProfileFieldLen {
		fields["profile.experienceLevel"] = fmt.Sprintf("exceeds %d characters", cfg.MaxProfileFieldLen)
	}
	if len(d.Bio) > cfg.MaxBioLen {
		fields["profile.bio"] = fmt.Sprintf("exceeds %d characters", cfg.MaxBioLen)
	}
}

// UserID validates a path-supplied user id.
func UserID(v string) error {
	if !userIDRx.MatchString(v) {
		return fmt.Errorf("invalid userId: %w", model.ErrValidation)
	}
	return nil
}
