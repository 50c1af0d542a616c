package store

import (
	"strings"
	"time"
)

// tenantState is the in-memory shape shared by the memory and file drivers.
type tenantState struct {
	Config     ScheduleConfig `json:"config"`
	Items      []Item         `json:"items,omitempty"`
	LastWindow string         `json:"last_window,omitempty"`
	FiredAt    time.Time      `json:"fired_at,omitempty"`
}

func newTenantState() *tenantState {
	// New tenants start enabled: "set channel, add questions" should be enough
	// to get deliveries without a separate enable step.
	return &tenantState{Config: ScheduleConfig{Enabled: true}}
}

// removeFirst removes the first occurrence of text scanning from the head.
// Returns false when absent.
func removeFirst(items []Item, text string) ([]Item, bool) {
	for i, it := range items {
		if it.Text == text {
			return append(items[:i:i], items[i+1:]...), true
		}
	}
	return items, false
}

// nullStr maps empty strings to SQL NULL for the relational drivers.
func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
