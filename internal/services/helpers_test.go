package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-track-bot/internal/domain"
	"github.com/tbourn/go-track-bot/internal/queue"
	"github.com/tbourn/go-track-bot/internal/repo"
)

// newTestDB opens a unique in-memory database per test with the ledger schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ----- fakes -----

type invoice struct {
	chatID  int64
	amount  int
	payload string
}

type delivered struct {
	handle                 domain.StatusHandle
	path, title, performer string
	existed                bool
}

type fakeNotifier struct {
	mu         sync.Mutex
	nextID     int
	statuses   map[domain.StatusHandle][]string
	replies    []string
	invoices   []invoice
	deliveries []delivered

	sendErr    error
	invoiceErr error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{statuses: map[domain.StatusHandle][]string{}}
}

func (n *fakeNotifier) SendStatus(_ context.Context, chatID int64, text string) (domain.StatusHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return domain.StatusHandle{}, n.sendErr
	}
	n.nextID++
	h := domain.StatusHandle{ChatID: chatID, MessageID: n.nextID}
	n.statuses[h] = []string{text}
	return h, nil
}

func (n *fakeNotifier) Reply(_ context.Context, _ int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, text)
	return nil
}

func (n *fakeNotifier) UpdateStatus(_ context.Context, h domain.StatusHandle, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses[h] = append(n.statuses[h], text)
	return nil
}

func (n *fakeNotifier) DeliverAudio(_ context.Context, h domain.StatusHandle, path, title, performer string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := os.Stat(path)
	n.deliveries = append(n.deliveries, delivered{h, path, title, performer, err == nil})
	return nil
}

func (n *fakeNotifier) ClearStatus(context.Context, domain.StatusHandle) error { return nil }

func (n *fakeNotifier) RequestPayment(_ context.Context, chatID int64, amount int, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.invoiceErr != nil {
		return n.invoiceErr
	}
	n.invoices = append(n.invoices, invoice{chatID, amount, payload})
	return nil
}

func (n *fakeNotifier) lastReply() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.replies) == 0 {
		return ""
	}
	return n.replies[len(n.replies)-1]
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newBot(t *testing.T, whitelist ...string) (*BotService, *fakeNotifier) {
	t.Helper()
	db := newTestDB(t)
	n := newFakeNotifier()
	return &BotService{
		DB:            db,
		Ledger:        NewLedgerService(db, whitelist),
		Queue:         queue.New(),
		Notifier:      n,
		Payments:      n,
		PaymentAmount: 3,
		Log:           zerolog.Nop(),
	}, n
}

func dequeueNow(t *testing.T, q *queue.Queue) *domain.Job {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Pending() == 0 {
		t.Fatalf("queue is empty")
	}
	j, err := q.Dequeue(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Dequeue: %v", err)
	}
	q.Done()
	return j
}
