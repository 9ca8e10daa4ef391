package audit

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Record is one persisted audit event. ID is the blake3 digest of the
// sequence number, type and attributes.
type Record struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Seq        uint64    `gorm:"uniqueIndex;not null" json:"seq"`
	Type       string    `gorm:"index;size:64;not null" json:"type"`
	Position   string    `gorm:"index;size:42" json:"position,omitempty"`
	Owner      string    `gorm:"index;size:42" json:"owner,omitempty"`
	Attributes string    `gorm:"type:text;not null" json:"-"`
	RecordedAt time.Time `gorm:"index" json:"recordedAt"`
}

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("audit: decode attributes of %s: %w", r.ID, err)
	}
	return out, nil
}

// Filter narrows List results.
type Filter struct {
	Position string
	Owner    string
	Type     string
	AfterSeq uint64
	Limit    int
}

// Open connects to the audit database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
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
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return db, nil
}

// Indexer persists committed protocol events. It implements events.Emitter
// so it can sit directly behind the executor.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewIndexer resumes numbering after the highest stored sequence.
func NewIndexer(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var last struct{ Seq uint64 }
	if err := db.Model(&Record{}).Select("COALESCE(MAX(seq), 0) AS seq").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: resume sequence: %w", err)
	}
	return &Indexer{db: db, logger: logger, nowFn: time.Now, seq: last.Seq}, nil
}

// SetNowFunc overrides the recording clock. Primarily used in tests.
func (i *Indexer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	i.nowFn = now
}

// Emit implements events.Emitter. Failures are logged; the protocol state has
// already been committed when events reach the indexer.
func (i *Indexer) Emit(e events.Event) {
	if _, err := i.Record(context.Background(), e); err != nil {
		i.logger.Error("audit record not persisted", slog.String("type", e.EventType()), slog.Any("error", err))
	}
}

// Record persists e and returns the stored row.
func (i *Indexer) Record(ctx context.Context, e events.Event) (Record, error) {
	flat := events.Flatten(e)
	if flat == nil {
		return Record{}, errors.New("audit: nil event")
	}
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("audit: encode attributes: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	seq := i.seq + 1
	rec := Record{
		ID:         recordID(seq, flat.Type, attrs),
		Seq:        seq,
		Type:       flat.Type,
		Position:   flat.Attributes["position"],
		Owner:      flat.Attributes["owner"],
		Attributes: string(attrs),
		RecordedAt: i.nowFn().UTC(),
	}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Record{}, fmt.Errorf("audit: insert %s: %w", flat.Type, err)
	}
	i.seq = seq
	return rec, nil
}

// List returns records matching f in sequence order.
func (i *Indexer) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := i.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", f.AfterSeq)
	if v := strings.TrimSpace(f.Position); v != "" {
		query = query.Where("position = ?", v)
	}
	if v := strings.TrimSpace(f.Owner); v != "" {
		query = query.Where("owner = ?", v)
	}
	if v := strings.TrimSpace(f.Type); v != "" {
		query = query.Where("type = ?", v)
	}
	var out []Record
	if err := query.Order("seq ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

func recordID(seq uint64, kind string, attrs []byte) string {
	buf := make([]byte, 8, 8+len(kind)+1+len(attrs))
	binary.BigEndian.PutUint64(buf, seq)
	buf = append(buf, kind...)
	buf = append(buf, 0)
	buf = append(buf, attrs...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
