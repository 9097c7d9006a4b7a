package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"espvote/internal/db"
	"espvote/internal/models"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := d.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(d)
}

func TestRegisterOrRefreshRotatesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Devices().RegisterOrRefresh(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if !first.IsNew || !first.Device.Registered || first.Device.Assigned {
		t.Fatalf("unexpected first registration %+v", first)
	}
	if first.Device.SessionID == "" {
		t.Fatalf("expected session id")
	}

	second, err := s.Devices().RegisterOrRefresh(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.IsNew {
		t.Fatalf("second registration must not be new")
	}
	if second.Device.ID != first.Device.ID {
		t.Fatalf("device row changed: %d != %d", second.Device.ID, first.Device.ID)
	}
	if second.Device.SessionID == first.Device.SessionID {
		t.Fatalf("session id was not rotated")
	}
	if second.PreviousSession != first.Device.SessionID {
		t.Fatalf("previous session = %q, want %q", second.PreviousSession, first.Device.SessionID)
	}

	all, err := s.Devices().ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 device, got %d", len(all))
	}

	if _, err := s.Devices().FindBySession(ctx, first.Device.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old session must not resolve, got %v", err)
	}
	got, err := s.Devices().FindBySession(ctx, second.Device.SessionID)
	if err != nil || got.ID != first.Device.ID {
		t.Fatalf("find by session: %v %+v", err, got)
	}
}

func TestRegisterRejectsEmptyAddress(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Devices().RegisterOrRefresh(context.Background(), "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentRegistrationSameAddress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Devices().RegisterOrRefresh(ctx, "11:22:33:44:55:66"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("register: %v", err)
	}

	all, _ := s.Devices().ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one device row, got %d", len(all))
	}
}

func TestAssignVoter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg, _ := s.Devices().RegisterOrRefresh(ctx, "AA:BB:CC:DD:EE:FF")
	alice, err := s.Devices().AssignVoter(ctx, reg.Device.ID, "alice")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	dev, _ := s.Devices().Get(ctx, reg.Device.ID)
	if !dev.Assigned || dev.VoterID == nil || *dev.VoterID != alice.ID {
		t.Fatalf("device not linked to alice: %+v", dev)
	}

	// то же имя на том же устройстве — тот же голосующий
	again, err := s.Devices().AssignVoter(ctx, reg.Device.ID, "alice")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if again.ID != alice.ID {
		t.Fatalf("expected voter reuse, got %d and %d", alice.ID, again.ID)
	}

	bob, err := s.Devices().AssignVoter(ctx, reg.Device.ID, "bob")
	if err != nil {
		t.Fatalf("assign bob: %v", err)
	}
	prev, _ := s.Devices().GetVoter(ctx, alice.ID)
	if prev.DeviceID != nil {
		t.Fatalf("alice should lose the device link, got %v", *prev.DeviceID)
	}
	dev, _ = s.Devices().Get(ctx, reg.Device.ID)
	if dev.VoterID == nil || *dev.VoterID != bob.ID {
		t.Fatalf("device should point to bob: %+v", dev)
	}

	assigned, err := s.Devices().ListAssigned(ctx)
	if err != nil {
		t.Fatalf("list assigned: %v", err)
	}
	if len(assigned) != 1 || assigned[0].VoterName != "bob" {
		t.Fatalf("unexpected assigned list %+v", assigned)
	}
	unassigned, _ := s.Devices().ListUnassigned(ctx)
	if len(unassigned) != 0 {
		t.Fatalf("expected no unassigned devices, got %d", len(unassigned))
	}
}

func TestAssignVoterErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Devices().AssignVoter(ctx, 999, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	reg, _ := s.Devices().RegisterOrRefresh(ctx, "AA")
	if _, err := s.Devices().AssignVoter(ctx, reg.Device.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var n int64
	s.DB.Model(&models.Voter{}).Count(&n)
	if n != 0 {
		t.Fatalf("no voter rows expected, got %d", n)
	}
}

func TestUnassignAndUnregister(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Devices().RegisterOrRefresh(ctx, "AA")
	b, _ := s.Devices().RegisterOrRefresh(ctx, "BB")
	if _, err := s.Devices().AssignVoter(ctx, a.Device.ID, "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := s.Devices().Unassign(ctx, a.Device.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	// повторно — no-op
	if err := s.Devices().Unassign(ctx, a.Device.ID); err != nil {
		t.Fatalf("second unassign: %v", err)
	}
	dev, _ := s.Devices().Get(ctx, a.Device.ID)
	if dev.Assigned || dev.VoterID != nil {
		t.Fatalf("device still assigned: %+v", dev)
	}
	if err := s.Devices().Unassign(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.Devices().AssignVoter(ctx, b.Device.ID, "bob"); err != nil {
		t.Fatalf("assign bob: %v", err)
	}
	if _, err := s.Devices().UnassignAll(ctx); err != nil {
		t.Fatalf("unassign all: %v", err)
	}
	unassigned, _ := s.Devices().ListUnassigned(ctx)
	if len(unassigned) != 2 {
		t.Fatalf("expected 2 unassigned, got %d", len(unassigned))
	}

	if _, err := s.Devices().Unregister(ctx, a.Device.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	registered, _ := s.Devices().ListRegistered(ctx)
	if len(registered) != 1 || registered[0].ID != b.Device.ID {
		t.Fatalf("unexpected registered list %+v", registered)
	}
	n, err := s.Devices().UnregisterAll(ctx)
	if err != nil {
		t.Fatalf("unregister all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 affected row, got %d", n)
	}
	all, _ := s.Devices().ListAll(ctx)
	if len(all) != 2 {
		t.Fatalf("unregister must keep rows, got %d", len(all))
	}
}

func TestCreateTopicValidationAndOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := s.Topics().Create(ctx, "T0", "", now, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty window, got %v", err)
	}
	if _, err := s.Topics().Create(ctx, "", "", now, now.Add(time.Hour)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty title, got %v", err)
	}

	t1, err := s.Topics().Create(ctx, "T1", "first", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create T1: %v", err)
	}
	if t1.ID == 0 {
		t.Fatalf("expected id")
	}

	if _, err := s.Topics().Create(ctx, "T2", "", now.Add(30*time.Minute), now.Add(2*time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// соседнее окно [end, ...) не пересекается
	if _, err := s.Topics().Create(ctx, "T3", "", now.Add(time.Hour), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("adjacent window rejected: %v", err)
	}

	list, _ := s.Topics().List(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(list))
	}
	got, err := s.Topics().Get(ctx, t1.ID)
	if err != nil || got.Title != "T1" || !got.StartTime.Equal(now) {
		t.Fatalf("get: %v %+v", err, got)
	}
	if _, err := s.Topics().Get(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPick(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := models.Topic{ID: 1, Title: "past", StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-2 * time.Hour)}
	active := models.Topic{ID: 2, Title: "active", StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	soon := models.Topic{ID: 3, Title: "soon", StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour)}
	later := models.Topic{ID: 4, Title: "later", StartTime: now.Add(5 * time.Hour), EndTime: now.Add(6 * time.Hour)}

	cases := []struct {
		name   string
		topics []models.Topic
		want   uint
	}{
		{"active wins", []models.Topic{past, later, active, soon}, 2},
		{"nearest upcoming", []models.Topic{later, past, soon}, 3},
		{"most recent", []models.Topic{past}, 1},
	}
	for _, c := range cases {
		got, ok := Pick(c.topics, now)
		if !ok || got.ID != c.want {
			t.Fatalf("%s: got %d (ok=%v), want %d", c.name, got.ID, ok, c.want)
		}
	}
	if _, ok := Pick(nil, now); ok {
		t.Fatalf("empty list must not pick")
	}
}

func TestCastVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reg, _ := s.Devices().RegisterOrRefresh(ctx, "AA")
	topic, err := s.Topics().Create(ctx, "T1", "", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("topic: %v", err)
	}

	// незакреплённое устройство
	if _, err := s.Votes().Cast(ctx, reg.Device.ID, "Yes", topic.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := s.Votes().Create(ctx, reg.Device.ID, "Yes", topic.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("create: expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := s.Votes().Update(ctx, reg.Device.ID, "Yes", topic.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("update: expected ErrPreconditionFailed, got %v", err)
	}
	var n int64
	s.DB.Model(&models.Vote{}).Count(&n)
	if n != 0 {
		t.Fatalf("no vote rows expected, got %d", n)
	}

	alice, _ := s.Devices().AssignVoter(ctx, reg.Device.ID, "alice")

	res, err := s.Votes().Cast(ctx, reg.Device.ID, "Yes", topic.ID)
	if err != nil {
		t.Fatalf("cast yes: %v", err)
	}
	if !res.Created || res.Vote.Value != "Yes" || res.Voter.ID != alice.ID {
		t.Fatalf("unexpected first cast %+v", res)
	}
	ok, _ := s.Votes().Exists(ctx, alice.ID, topic.ID)
	if !ok {
		t.Fatalf("vote should exist")
	}

	res, err = s.Votes().Cast(ctx, reg.Device.ID, "No", topic.ID)
	if err != nil {
		t.Fatalf("cast no: %v", err)
	}
	if res.Created || res.Vote.Value != "No" {
		t.Fatalf("unexpected revote %+v", res)
	}

	views, err := s.Votes().ListForTopic(ctx, topic.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Value != "No" || views[0].VoterName != "alice" {
		t.Fatalf("unexpected votes %+v", views)
	}
	byVoter, _ := s.Votes().ListForVoter(ctx, alice.ID)
	if len(byVoter) != 1 {
		t.Fatalf("expected 1 vote for voter, got %d", len(byVoter))
	}

	if _, err := s.Votes().Create(ctx, reg.Device.ID, "Maybe", topic.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create: expected ErrConflict, got %v", err)
	}
}

func TestUpdateIsScopedToTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	reg, _ := s.Devices().RegisterOrRefresh(ctx, "AA")
	_, _ = s.Devices().AssignVoter(ctx, reg.Device.ID, "alice")
	t1, _ := s.Topics().Create(ctx, "T1", "", now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	t2, _ := s.Topics().Create(ctx, "T2", "", now.Add(-time.Hour), now.Add(time.Hour))

	if _, err := s.Votes().Create(ctx, reg.Device.ID, "Yes", t1.ID); err != nil {
		t.Fatalf("create t1: %v", err)
	}
	if _, err := s.Votes().Update(ctx, reg.Device.ID, "No", t2.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing vote: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Votes().Create(ctx, reg.Device.ID, "No", t2.ID); err != nil {
		t.Fatalf("create t2: %v", err)
	}
	if _, err := s.Votes().Update(ctx, reg.Device.ID, "Abstain", t2.ID); err != nil {
		t.Fatalf("update t2: %v", err)
	}

	v1, _ := s.Votes().ListForTopic(ctx, t1.ID)
	v2, _ := s.Votes().ListForTopic(ctx, t2.ID)
	if len(v1) != 1 || v1[0].Value != "Yes" {
		t.Fatalf("t1 vote changed: %+v", v1)
	}
	if len(v2) != 1 || v2[0].Value != "Abstain" {
		t.Fatalf("unexpected t2 votes %+v", v2)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.Devices().RegisterOrRefresh(ctx, "AA"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	all, _ := s.Devices().ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expected rollback, got %d devices", len(all))
	}
}

func TestRegisterOrRefreshIgnoresAddressCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lower, err := s.Devices().RegisterOrRefresh(ctx, " aa:bb:cc:dd:ee:ff ")
	if err != nil {
		t.Fatalf("register lower: %v", err)
	}
	if lower.Device.HardwareAddress != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("address not normalized: %q", lower.Device.HardwareAddress)
	}
	upper, err := s.Devices().RegisterOrRefresh(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("register upper: %v", err)
	}
	if upper.IsNew || upper.Device.ID != lower.Device.ID {
		t.Fatalf("same hardware registered twice: %+v vs %+v", upper.Device, lower.Device)
	}
	all, _ := s.Devices().ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 device row, got %d", len(all))
	}
	found, err := s.Devices().FindByHardwareAddress(ctx, "aa:bb:cc:dd:ee:ff")
	if err != nil || found.ID != lower.Device.ID {
		t.Fatalf("lookup by lower-case address: %+v, %v", found, err)
	}
}

func TestWithTxCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Store) error {
		reg, err := tx.Devices().RegisterOrRefresh(ctx, "AA")
		if err != nil {
			return err
		}
		_, err = tx.Devices().AssignVoter(ctx, reg.Device.ID, "alice")
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	assigned, _ := s.Devices().ListAssigned(ctx)
	if len(assigned) != 1 || assigned[0].VoterName != "alice" {
		t.Fatalf("unexpected assigned list %+v", assigned)
	}
}
