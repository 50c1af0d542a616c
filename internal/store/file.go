package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "childebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json    (periodic snapshot of all tenant state)
//   - <prefix>.journal.jsonl (append-only mutation journal)
//   - <prefix>.audit.jsonl   (append-only JSON Lines audit log)
//
// On open the snapshot is loaded and the journal replayed on top of it; the
// journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	tenants map[TenantID]*tenantState

	snapshotPath string
	journalFile  *os.File
	auditFile    *os.File

	writes int
}

const compactEvery = 500

type journalRecord struct {
	Op     string         `json:"op"`
	Tenant TenantID       `json:"tenant"`
	At     time.Time      `json:"at,omitempty"`
	Item   *Item          `json:"item,omitempty"`
	Text   string         `json:"text,omitempty"`
	Value  string         `json:"value,omitempty"`
	Flag   bool           `json:"flag,omitempty"`
	Policy *TriggerPolicy `json:"policy,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".state.json"
	journalPath := prefix + ".journal.jsonl"
	auditPath := prefix + ".audit.jsonl"

	tenants := map[TenantID]*tenantState{}
	if err := loadSnapshot(snapPath, tenants); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; relying on journal", logx.Err(err))
	}
	if err := replayJournal(journalPath, tenants); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		tenants:      tenants,
		snapshotPath: snapPath,
		journalFile:  jf,
		auditFile:    af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		// Final compaction so the next open starts from a clean snapshot.
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

// mutate applies rec in memory and appends it to the journal. The in-memory
// apply happens only after a successful journal write so disk and memory agree.
func (s *fileStore) mutate(rec journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("store journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	applyRecord(s.tenants, rec)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func applyRecord(tenants map[TenantID]*tenantState, rec journalRecord) {
	if rec.Op == "remove_tenant" {
		delete(tenants, rec.Tenant)
		return
	}
	st, ok := tenants[rec.Tenant]
	if !ok {
		// remove/clear on an absent tenant stays a no-op.
		switch rec.Op {
		case "remove_item", "clear_items":
			return
		}
		st = newTenantState()
		tenants[rec.Tenant] = st
	}

	switch rec.Op {
	case "add_item":
		if rec.Item != nil {
			st.Items = append(st.Items, *rec.Item)
		}
	case "remove_item":
		st.Items, _ = removeFirst(st.Items, rec.Text)
	case "clear_items":
		st.Items = nil
	case "set_destination":
		st.Config.Destination = rec.Value
	case "set_tag":
		st.Config.TagText = rec.Value
	case "set_fallback":
		st.Config.FallbackText = rec.Value
	case "set_enabled":
		st.Config.Enabled = rec.Flag
	case "set_policy":
		if rec.Policy != nil {
			st.Config.Policy = *rec.Policy
		}
	case "mark_fired":
		st.LastWindow = rec.Value
		st.FiredAt = rec.At
	}
}

func (s *fileStore) AddItem(ctx context.Context, tenant TenantID, it Item) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "add_item", Tenant: tenant, Item: &it})
}

func (s *fileStore) PeekFirst(ctx context.Context, tenant TenantID) (Item, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok || len(st.Items) == 0 {
		return Item{}, false, nil
	}
	return st.Items[0], true, nil
}

func (s *fileStore) RemoveItem(ctx context.Context, tenant TenantID, text string) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "remove_item", Tenant: tenant, Text: text})
}

func (s *fileStore) ListItems(ctx context.Context, tenant TenantID) ([]Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok {
		return nil, nil
	}
	out := make([]Item, len(st.Items))
	copy(out, st.Items)
	return out, nil
}

func (s *fileStore) ClearItems(ctx context.Context, tenant TenantID) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "clear_items", Tenant: tenant})
}

func (s *fileStore) SetDestination(ctx context.Context, tenant TenantID, destination string) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "set_destination", Tenant: tenant, Value: destination})
}

func (s *fileStore) SetTagText(ctx context.Context, tenant TenantID, tag string) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "set_tag", Tenant: tenant, Value: tag})
}

func (s *fileStore) SetFallbackText(ctx context.Context, tenant TenantID, text string) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "set_fallback", Tenant: tenant, Value: text})
}

func (s *fileStore) SetEnabled(ctx context.Context, tenant TenantID, enabled bool) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "set_enabled", Tenant: tenant, Flag: enabled})
}

func (s *fileStore) SetPolicy(ctx context.Context, tenant TenantID, p TriggerPolicy) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "set_policy", Tenant: tenant, Policy: &p})
}

func (s *fileStore) GetConfig(ctx context.Context, tenant TenantID) (ScheduleConfig, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok {
		return ScheduleConfig{}, false, nil
	}
	return st.Config, true, nil
}

func (s *fileStore) Tenants(ctx context.Context) ([]TenantID, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TenantID, 0, len(s.tenants))
	for id, st := range s.tenants {
		if st.Config.Destination != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fileStore) RemoveTenant(ctx context.Context, tenant TenantID) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "remove_tenant", Tenant: tenant})
}

func (s *fileStore) LastFired(ctx context.Context, tenant TenantID) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok {
		return "", nil
	}
	return st.LastWindow, nil
}

func (s *fileStore) MarkFired(ctx context.Context, tenant TenantID, window string, at time.Time) error {
	_ = ctx
	return s.mutate(journalRecord{Op: "mark_fired", Tenant: tenant, Value: window, At: at})
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.tenants); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[TenantID]*tenantState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[TenantID]*tenantState
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[TenantID]*tenantState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn tail write is expected after a crash; skip it.
			continue
		}
		if rec.Op == "" || rec.Tenant == "" {
			continue
		}
		applyRecord(out, rec)
	}
	return sc.Err()
}
