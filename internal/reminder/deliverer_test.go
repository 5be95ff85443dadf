package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/edgard/mnemobot/internal/database"
)

type memStore struct {
	mu        sync.Mutex
	reminders map[int64]*database.Reminder
	queryErr  error
	updateErr map[int64]error
}

func newMemStore(rs ...database.Reminder) *memStore {
	m := &memStore{reminders: map[int64]*database.Reminder{}, updateErr: map[int64]error{}}
	for i := range rs {
		r := rs[i]
		if r.Status == "" {
			r.Status = database.ReminderPending
		}
		m.reminders[r.ID] = &r
	}
	return m
}

func (m *memStore) GetDueReminders(_ context.Context, now time.Time) ([]database.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []database.Reminder
	for _, r := range m.reminders {
		if r.Status == database.ReminderPending && !r.RemindAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateReminderStatus(_ context.Context, id int64, status database.ReminderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return false, err
	}
	r, ok := m.reminders[id]
	if !ok || r.Status != database.ReminderPending {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (m *memStore) status(id int64) database.ReminderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders[id].Status
}

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]bool
}

func (f *fakeNotifier) NotifyReminder(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return errors.New("chat unavailable")
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

var base = time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)

func TestTickDeliversOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore(database.Reminder{ID: 1, UserID: 5, ChatID: 50, ReminderText: "call Sam", RemindAt: base})
	notifier := &fakeNotifier{}
	now := base.Add(20 * time.Second)
	d := NewDeliverer(store, notifier, nil, WithClock(func() time.Time { return now }))

	n, err := d.Tick(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("first tick delivered %d, err %v", n, err)
	}
	if store.status(1) != database.ReminderSent {
		t.Fatalf("status = %s, want sent", store.status(1))
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 50 || notifier.sent[0].text != "⏰ Reminder: call Sam" {
		t.Fatalf("sent = %+v", notifier.sent)
	}

	now = base.Add(time.Minute)
	if n, _ := d.Tick(context.Background()); n != 0 {
		t.Fatalf("later tick re-delivered %d", n)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(notifier.sent))
	}
}

func TestTickMinuteEquality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		remindAt time.Time
		want     database.ReminderStatus
	}{
		{"same minute", base.Add(59 * time.Second), database.ReminderSent},
		{"missed minute stays pending", base.Add(-time.Minute), database.ReminderPending},
		{"future stays pending", base.Add(2 * time.Minute), database.ReminderPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore(database.Reminder{ID: 1, ChatID: 1, ReminderText: "x", RemindAt: tt.remindAt})
			d := NewDeliverer(store, &fakeNotifier{}, nil, WithClock(func() time.Time { return base.Add(59 * time.Second) }))
			if _, err := d.Tick(context.Background()); err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if got := store.status(1); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		database.Reminder{ID: 1, ChatID: 1, ReminderText: "a", RemindAt: base},
		database.Reminder{ID: 2, ChatID: 2, ReminderText: "b", RemindAt: base},
		database.Reminder{ID: 3, ChatID: 3, ReminderText: "c", RemindAt: base},
	)
	store.updateErr[1] = errors.New("locked")
	notifier := &fakeNotifier{fail: map[int64]bool{2: true}}
	d := NewDeliverer(store, notifier, nil, WithClock(func() time.Time { return base }), WithFormat("%s!"))

	n, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 || len(notifier.sent) != 1 || notifier.sent[0].text != "c!" {
		t.Fatalf("delivered %d, sent %+v", n, notifier.sent)
	}
	if store.status(1) != database.ReminderPending {
		t.Error("reminder with failed update must stay pending")
	}
	if store.status(2) != database.ReminderSent {
		t.Error("reminder with failed notification must not be retried")
	}
}

func TestTickStoreError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.queryErr = errors.New("disk I/O error")
	d := NewDeliverer(store, &fakeNotifier{}, nil)
	if _, err := d.Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTickDeliversDueTimeWithSeconds(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	ctx := context.Background()
	if err := store.EnsureUser(ctx, 5); err != nil {
		t.Fatal(err)
	}
	r := &database.Reminder{UserID: 5, ChatID: 50, ReminderText: "call Sam", RemindAt: base.Add(30 * time.Second)}
	if err := store.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	notifier := &fakeNotifier{}
	now := base.Add(200 * time.Millisecond)
	d := NewDeliverer(store, notifier, nil, WithClock(func() time.Time { return now }))

	total := 0
	for i := 0; i < 3; i++ {
		n, err := d.Tick(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		total += n
		now = now.Add(time.Minute)
	}

	if total != 1 || len(notifier.sent) != 1 {
		t.Fatalf("delivered %d, sent %+v, want exactly one delivery", total, notifier.sent)
	}
	got, err := store.GetReminder(ctx, r.ID)
	if err != nil || got.Status != database.ReminderSent {
		t.Errorf("reminder = %+v, %v", got, err)
	}
}
