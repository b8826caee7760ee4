package store

import (
	"encoding/json"
	"fmt"

	"thinkbigger/api/internal/rbac"
)

// Role of a user within one project.
type Role = rbac.Role

const (
	RoleNone   = rbac.RoleNone
	RoleOwner  = rbac.RoleOwner
	RoleMember = rbac.RoleMember
)

const DefaultNotificationLimit = 20

// Map and list valued columns are stored as JSON text.

func encodeText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(raw), nil
}

func decodeText[T any](raw string, out *T) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultNotificationLimit {
		return DefaultNotificationLimit
	}
	return limit
}

func uniqueStrings(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
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
