// Package audit keeps a queryable copy of every committed domain event and
// streams them to live subscribers.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"claimbridge/core/events"
)

// Record is one persisted event.
type Record struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DedupeKey  string    `gorm:"size:66;uniqueIndex" json:"dedupeKey"`
	Domain     string    `gorm:"size:32;index" json:"domain"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
}

func (Record) TableName() string { return "audit_events" }

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if r.Attributes == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(r.Attributes), &out)
	return out, err
}

// Event types whose payload may legitimately repeat. Their dedupe key also
// covers the receive time.
var repeatable = map[string]bool{
	events.TypeDomainPaused:         true,
	events.TypeDomainResumed:        true,
	events.TypeEditionStatusChanged: true,
	events.TypeActiveEditionSet:     true,
}

// Store persists audit records through gorm.
type Store struct {
	db     *gorm.DB
	nowFn  func() time.Time
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[chan Record]struct{}
}

// Open connects to the configured driver. "sqlite" accepts a file path or a
// DSN; "postgres" takes a libpq connection string.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return NewStore(db, logger)
}

func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		nowFn:  time.Now,
		logger: logger.With(slog.String("component", "audit")),
		subs:   make(map[chan Record]struct{}),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores evt once. It reports whether a new row was written.
func (s *Store) Append(domain string, evt events.Event) (bool, error) {
	if evt == nil {
		return false, nil
	}
	rendered := evt.Event()
	if rendered == nil {
		return false, nil
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return false, err
	}
	now := s.nowFn().UTC()
	rec := Record{
		DedupeKey:  dedupeKey(domain, rendered.Type, rendered.Attributes, now, repeatable[rendered.Type]),
		Domain:     domain,
		Type:       rendered.Type,
		Attributes: string(attrs),
		RecordedAt: now,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.publish(rec)
	return true, nil
}

// Sink adapts the store to an events.Emitter for one domain. Write failures
// are logged; auditing never blocks a domain.
func (s *Store) Sink(domain string) events.Emitter {
	return sink{store: s, domain: domain}
}

type sink struct {
	store  *Store
	domain string
}

func (k sink) Emit(evt events.Event) {
	if _, err := k.store.Append(k.domain, evt); err != nil {
		k.store.logger.Error("audit append failed",
			slog.String("domain", k.domain),
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Domain string
	Type   string
	Since  time.Time
	Limit  int
}

func (s *Store) List(f Filter) ([]Record, error) {
	q := s.db.Model(&Record{}).Order("id asc")
	if f.Domain != "" {
		q = q.Where("domain = ?", f.Domain)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if !f.Since.IsZero() {
		q = q.Where("recorded_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe returns a channel receiving every newly stored record. Slow
// subscribers miss records rather than stall writers. cancel must be called.
func (s *Store) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(rec Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

func dedupeKey(domain, eventType string, attrs map[string]string, at time.Time, withTime bool) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(domain)
	b.WriteByte(0)
	b.WriteString(eventType)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	if withTime {
		fmt.Fprintf(&b, "\x00%d", at.UnixNano())
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(b.String())))
}
