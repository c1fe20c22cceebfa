package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type txMarker struct{}

// InMemoryStore backs every repository interface with maps guarded by one
// mutex. A transaction holds the mutex for its whole duration and restores a
// snapshot if the callback fails, which mirrors the row locks and rollback the
// postgres implementation relies on.
type InMemoryStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]model.User
	gatepasses map[uuid.UUID]model.Gatepass
	counters   map[string]int
	audits     []model.AuditLog
	units      map[uuid.UUID]model.Unit
	sessions   map[uuid.UUID]model.ImpersonationSession

	// FailAudit, when set, is returned by every audit append
	FailAudit error
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.Clear()
	return s
}

func (s *InMemoryStore) Clear() {
	s.users = make(map[uuid.UUID]model.User)
	s.gatepasses = make(map[uuid.UUID]model.Gatepass)
	s.counters = make(map[string]int)
	s.audits = nil
	s.units = make(map[uuid.UUID]model.Unit)
	s.sessions = make(map[uuid.UUID]model.ImpersonationSession)
	s.FailAudit = nil
}

func (s *InMemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(txMarker{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users      map[uuid.UUID]model.User
	gatepasses map[uuid.UUID]model.Gatepass
	counters   map[string]int
	audits     []model.AuditLog
	units      map[uuid.UUID]model.Unit
	sessions   map[uuid.UUID]model.ImpersonationSession
}

func (s *InMemoryStore) snapshot() snapshot {
	gps := make(map[uuid.UUID]model.Gatepass, len(s.gatepasses))
	for id, gp := range s.gatepasses {
		gp.Items = append([]model.GatepassItem(nil), gp.Items...)
		gps[id] = gp
	}
	return snapshot{
		users:      lo.Assign(s.users),
		gatepasses: gps,
		counters:   lo.Assign(s.counters),
		audits:     append([]model.AuditLog(nil), s.audits...),
		units:      lo.Assign(s.units),
		sessions:   lo.Assign(s.sessions),
	}
}

func (s *InMemoryStore) restore(snap snapshot) {
	s.users = snap.users
	s.gatepasses = snap.gatepasses
	s.counters = snap.counters
	s.audits = snap.audits
	s.units = snap.units
	s.sessions = snap.sessions
}

// Transactions

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(txMarker{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txMarker{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Inspection helpers for assertions

func (s *InMemoryStore) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

func (s *InMemoryStore) Audits() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.audits...)
}

func (s *InMemoryStore) LastAudit() (model.AuditLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audits) == 0 {
		return model.AuditLog{}, false
	}
	return s.audits[len(s.audits)-1], true
}

func notFound(entity string) error {
	return ierr.NewErrorf("%s not found", entity).
		WithHintf("%s not found", entity).
		Mark(ierr.ErrNotFound)
}

func conflict(entity string) error {
	return ierr.NewErrorf("%s already exists", entity).
		WithHintf("%s already exists", entity).
		Mark(ierr.ErrConflict)
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	page = max(page, 1)
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+limit, len(items))]
}

// Gatepasses

type InMemoryGatepassStore struct{ *InMemoryStore }

var _ repository.GatepassRepository = InMemoryGatepassStore{}

func (s InMemoryGatepassStore) AllocateSequence(ctx context.Context, prefix, day string) (int, error) {
	defer s.lock(ctx)()

	last, ok := s.counters[day]
	if !ok {
		pattern := prefix + "-" + day + "-"
		for _, gp := range s.gatepasses {
			if !strings.HasPrefix(gp.Number, pattern) {
				continue
			}
			if seq, err := strconv.Atoi(gp.Number[len(gp.Number)-4:]); err == nil && seq > last {
				last = seq
			}
		}
	}
	s.counters[day] = last + 1
	return last + 1, nil
}

func (s InMemoryGatepassStore) Create(ctx context.Context, gp *model.Gatepass) error {
	defer s.lock(ctx)()

	for _, existing := range s.gatepasses {
		if existing.Number == gp.Number {
			return conflict("gatepass")
		}
	}
	if gp.ID == uuid.Nil {
		gp.ID = uuid.New()
	}
	now := time.Now()
	if gp.CreatedAt.IsZero() {
		gp.CreatedAt = now
	}
	gp.UpdatedAt = now
	for i := range gp.Items {
		if gp.Items[i].ID == uuid.Nil {
			gp.Items[i].ID = uuid.New()
		}
		gp.Items[i].GatepassID = gp.ID
	}

	stored := *gp
	stored.Items = append([]model.GatepassItem(nil), gp.Items...)
	stored.Creator, stored.AdminApprover, stored.SecurityApprover, stored.Decliner = nil, nil, nil, nil
	s.gatepasses[gp.ID] = stored
	return nil
}

func (s InMemoryGatepassStore) hydrate(gp model.Gatepass) model.Gatepass {
	gp.Items = append([]model.GatepassItem(nil), gp.Items...)
	lookup := func(id *uuid.UUID) *model.User {
		if id == nil {
			return nil
		}
		if u, ok := s.users[*id]; ok {
			return &u
		}
		return nil
	}
	gp.Creator = lookup(&gp.CreatedBy)
	gp.AdminApprover = lookup(gp.AdminApprovedBy)
	gp.SecurityApprover = lookup(gp.SecurityApprovedBy)
	gp.Decliner = lookup(gp.DeclinedBy)
	return gp
}

func (s InMemoryGatepassStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Gatepass, error) {
	defer s.lock(ctx)()

	gp, ok := s.gatepasses[id]
	if !ok {
		return nil, ierr.Annotate(notFound("gatepass"), map[string]any{"gatepass_id": id})
	}
	gp = s.hydrate(gp)
	return &gp, nil
}

func (s InMemoryGatepassStore) List(ctx context.Context, f repository.GatepassFilter) ([]model.Gatepass, int64, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(f.Search)
	var out []model.Gatepass
	for _, gp := range s.gatepasses {
		if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, gp.Status) {
			continue
		}
		if f.CreatedBy != nil && gp.CreatedBy != *f.CreatedBy {
			continue
		}
		if f.From != nil && gp.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && gp.CreatedAt.After(*f.To) {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(strings.Join([]string{gp.Number, gp.FromLocation, gp.ToLocation, gp.MaterialType, gp.Purpose}, " "))
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		out = append(out, s.hydrate(gp))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return paginate(out, f.Page, f.Limit), int64(len(out)), nil
}

func (s InMemoryGatepassStore) UpdateStatus(ctx context.Context, gp *model.Gatepass, expected string) error {
	defer s.lock(ctx)()

	stored, ok := s.gatepasses[gp.ID]
	if !ok || stored.Status != expected {
		return ierr.NewErrorf("gatepass %s is no longer %s", gp.ID, expected).
			WithHint("Gatepass was modified concurrently, reload and retry").
			Mark(ierr.ErrConflict)
	}
	stored.Status = gp.Status
	stored.AdminApprovedBy, stored.AdminApprovedAt = gp.AdminApprovedBy, gp.AdminApprovedAt
	stored.SecurityApprovedBy, stored.SecurityApprovedAt = gp.SecurityApprovedBy, gp.SecurityApprovedAt
	stored.DeclinedBy, stored.DeclinedAt, stored.DeclineReason = gp.DeclinedBy, gp.DeclinedAt, gp.DeclineReason
	stored.UpdatedAt = time.Now()
	s.gatepasses[gp.ID] = stored
	return nil
}

func (s InMemoryGatepassStore) ReplaceItems(ctx context.Context, id uuid.UUID, items []model.GatepassItem) error {
	defer s.lock(ctx)()

	stored, ok := s.gatepasses[id]
	if !ok {
		return notFound("gatepass")
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		items[i].GatepassID = id
	}
	stored.Items = append([]model.GatepassItem(nil), items...)
	stored.UpdatedAt = time.Now()
	s.gatepasses[id] = stored
	return nil
}

func (s InMemoryGatepassStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()

	if _, ok := s.gatepasses[id]; !ok {
		return notFound("gatepass")
	}
	delete(s.gatepasses, id)
	return nil
}

func (s InMemoryGatepassStore) DeleteByCreator(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for id, gp := range s.gatepasses {
		if gp.CreatedBy == userID {
			delete(s.gatepasses, id)
			n++
		}
	}
	return n, nil
}

func (s InMemoryGatepassStore) ClearActorReferences(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for id, gp := range s.gatepasses {
		if gp.AdminApprovedBy != nil && *gp.AdminApprovedBy == userID {
			gp.AdminApprovedBy, gp.AdminApprovedAt = nil, nil
			n++
		}
		if gp.SecurityApprovedBy != nil && *gp.SecurityApprovedBy == userID {
			gp.SecurityApprovedBy, gp.SecurityApprovedAt = nil, nil
			n++
		}
		if gp.DeclinedBy != nil && *gp.DeclinedBy == userID {
			gp.DeclinedBy, gp.DeclinedAt = nil, nil
			n++
		}
		s.gatepasses[id] = gp
	}
	return n, nil
}

// Audit trail

type InMemoryAuditStore struct{ *InMemoryStore }

var _ repository.AuditRepository = InMemoryAuditStore{}

func (s InMemoryAuditStore) Append(ctx context.Context, entry *model.AuditLog) error {
	defer s.lock(ctx)()

	if s.FailAudit != nil {
		return s.FailAudit
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == "" {
		entry.Details = "{}"
	}
	stored := *entry
	stored.Actor, stored.TrueActor = nil, nil
	s.audits = append(s.audits, stored)
	return nil
}

func (s InMemoryAuditStore) List(ctx context.Context, f repository.AuditFilter) ([]model.AuditLog, int64, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(f.Search)
	var out []model.AuditLog
	for _, a := range s.audits {
		if f.ActorID != nil && !sameID(a.ActorID, *f.ActorID) && !sameID(a.TrueActorID, *f.ActorID) {
			continue
		}
		if f.EntityID != "" && a.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && a.Action != f.Action {
			continue
		}
		if f.From != nil && a.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.CreatedAt.After(*f.To) {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(strings.Join([]string{a.Action, a.EntityName, a.EntityID, a.Details}, " "))
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		out = append(out, a)
	}

	// appended in order, newest last
	out = lo.Reverse(out)
	return paginate(out, f.Page, f.Limit), int64(len(out)), nil
}

func (s InMemoryAuditStore) DeleteByActor(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()

	kept := s.audits[:0:0]
	var n int64
	for _, a := range s.audits {
		if sameID(a.TrueActorID, userID) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.audits = kept
	return n, nil
}

func (s InMemoryAuditStore) DetachActor(ctx context.Context, userID uuid.UUID, username string) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for i, a := range s.audits {
		if !sameID(a.ActorID, userID) {
			continue
		}
		details := map[string]any{}
		if a.Details != "" {
			if err := json.Unmarshal([]byte(a.Details), &details); err != nil {
				return n, err
			}
		}
		details[model.DetailDeletedActorID] = userID.String()
		details[model.DetailDeletedActor] = username
		raw, err := json.Marshal(details)
		if err != nil {
			return n, err
		}
		a.ActorID = nil
		a.Details = string(raw)
		s.audits[i] = a
		n++
	}
	return n, nil
}

func sameID(id *uuid.UUID, other uuid.UUID) bool {
	return id != nil && *id == other
}

// Users

type InMemoryUserStore struct{ *InMemoryStore }

var _ repository.UserRepository = InMemoryUserStore{}

func (s InMemoryUserStore) Create(ctx context.Context, user *model.User) error {
	defer s.lock(ctx)()

	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return conflict("user")
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (s InMemoryUserStore) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer s.lock(ctx)()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user")
	}
	return &u, nil
}

func (s InMemoryUserStore) find(ctx context.Context, match func(model.User) bool) (*model.User, error) {
	defer s.lock(ctx)()

	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, notFound("user")
}

func (s InMemoryUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.find(ctx, func(u model.User) bool { return u.Email == email })
}

func (s InMemoryUserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.find(ctx, func(u model.User) bool { return u.Username == username })
}

func (s InMemoryUserStore) List(ctx context.Context, f repository.UserFilter) ([]model.User, int64, error) {
	defer s.lock(ctx)()

	search := strings.ToLower(f.Search)
	users := lo.Filter(lo.Values(s.users), func(u model.User, _ int) bool {
		if f.Role != "" && u.Role != f.Role {
			return false
		}
		if f.Status != "" && u.Status != f.Status {
			return false
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Username+" "+u.Email), search) {
			return false
		}
		return true
	})
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return paginate(users, f.Page, f.Limit), int64(len(users)), nil
}

func (s InMemoryUserStore) CountByRole(ctx context.Context, role string) (int64, error) {
	defer s.lock(ctx)()

	return int64(lo.CountBy(lo.Values(s.users), func(u model.User) bool { return u.Role == role })), nil
}

func (s InMemoryUserStore) Update(ctx context.Context, user *model.User) error {
	defer s.lock(ctx)()

	if _, ok := s.users[user.ID]; !ok {
		return notFound("user")
	}
	for id, u := range s.users {
		if id != user.ID && (u.Username == user.Username || u.Email == user.Email) {
			return conflict("user")
		}
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = *user
	return nil
}

func (s InMemoryUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()

	if _, ok := s.users[id]; !ok {
		return notFound("user")
	}
	for _, gp := range s.gatepasses {
		if gp.CreatedBy == id || sameID(gp.AdminApprovedBy, id) || sameID(gp.SecurityApprovedBy, id) || sameID(gp.DeclinedBy, id) {
			return ierr.NewError("user still referenced by gatepasses").
				Mark(ierr.ErrDatabase)
		}
	}
	delete(s.users, id)
	for sid, session := range s.sessions {
		if session.TrueActorID == id || session.TargetUserID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// Units

type InMemoryUnitStore struct{ *InMemoryStore }

var _ repository.UnitRepository = InMemoryUnitStore{}

func (s InMemoryUnitStore) Create(ctx context.Context, unit *model.Unit) error {
	defer s.lock(ctx)()

	for _, u := range s.units {
		if u.Code == unit.Code {
			return conflict("unit")
		}
	}
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	s.units[unit.ID] = *unit
	return nil
}

func (s InMemoryUnitStore) Update(ctx context.Context, unit *model.Unit) error {
	defer s.lock(ctx)()

	if _, ok := s.units[unit.ID]; !ok {
		return notFound("unit")
	}
	s.units[unit.ID] = *unit
	return nil
}

func (s InMemoryUnitStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()

	if _, ok := s.units[id]; !ok {
		return notFound("unit")
	}
	delete(s.units, id)
	return nil
}

func (s InMemoryUnitStore) FindByID(ctx context.Context, id uuid.UUID) (*model.Unit, error) {
	defer s.lock(ctx)()

	u, ok := s.units[id]
	if !ok {
		return nil, notFound("unit")
	}
	return &u, nil
}

func (s InMemoryUnitStore) List(ctx context.Context, activeOnly bool) ([]model.Unit, error) {
	defer s.lock(ctx)()

	units := lo.Filter(lo.Values(s.units), func(u model.Unit, _ int) bool { return !activeOnly || u.Active })
	sort.Slice(units, func(i, j int) bool { return units[i].Code < units[j].Code })
	return units, nil
}

func (s InMemoryUnitStore) FindActiveByCodes(ctx context.Context, codes []string) ([]model.Unit, error) {
	defer s.lock(ctx)()

	return lo.Filter(lo.Values(s.units), func(u model.Unit, _ int) bool {
		return u.Active && lo.Contains(codes, u.Code)
	}), nil
}

// Impersonation sessions

type InMemoryImpersonationStore struct{ *InMemoryStore }

var _ repository.ImpersonationRepository = InMemoryImpersonationStore{}

func (s InMemoryImpersonationStore) Open(ctx context.Context, session *model.ImpersonationSession) error {
	defer s.lock(ctx)()

	for _, open := range s.sessions {
		if open.TrueActorID == session.TrueActorID && open.IsOpen() {
			return repository.ErrImpersonationActive(session.TrueActorID)
		}
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s InMemoryImpersonationStore) Active(ctx context.Context, trueActorID uuid.UUID) (*model.ImpersonationSession, error) {
	defer s.lock(ctx)()

	for _, session := range s.sessions {
		if session.TrueActorID == trueActorID && session.IsOpen() {
			return &session, nil
		}
	}
	return nil, notFound("impersonation session")
}

func (s InMemoryImpersonationStore) Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	defer s.lock(ctx)()

	session, ok := s.sessions[id]
	if !ok || !session.IsOpen() {
		return repository.ErrImpersonationEnded(id)
	}
	session.EndedAt = &endedAt
	s.sessions[id] = session
	return nil
}

// Statistics

type InMemoryStatisticsStore struct{ *InMemoryStore }

var _ repository.StatisticsRepository = InMemoryStatisticsStore{}

func (s InMemoryStatisticsStore) CountByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error) {
	defer s.lock(ctx)()

	counts := make(map[string]int64)
	for _, gp := range s.gatepasses {
		if gp.CreatedAt.Before(start) || gp.CreatedAt.After(end) {
			continue
		}
		counts[gp.Status]++
	}
	out := make([]model.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, model.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}
