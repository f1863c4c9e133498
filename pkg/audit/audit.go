package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/maestro-sys/maestro/pkg/events"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/types"
)

var (
	bucketEvents  = []byte("events")
	bucketDiffs   = []byte("diffs")
	bucketTickets = []byte("tickets")
)

// Entry is one archived event
type Entry struct {
	Seq       uint64            `json:"seq"`
	Topic     string            `json:"topic"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`

	Diff   *types.StateDiff `json:"diff,omitempty"`
	Ticket *types.Ticket    `json:"ticket,omitempty"`
	Run    *types.RunResult `json:"run,omitempty"`
}

// Archive is an optional event-stream consumer that persists lifecycle
// events, state diffs, and tickets to a local bolt database for later
// inspection. The coordination core itself never reads it back.
type Archive struct {
	logger zerolog.Logger
	db     *bolt.DB
	sub    *events.Subscription
}

// Open creates or opens the archive database
func Open(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketDiffs, bucketTickets} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Archive{
		logger: log.WithSubsystem("audit"),
		db:     db,
	}, nil
}

// Attach subscribes the archive to every event on the router. Call at
// most once.
func (a *Archive) Attach(router *events.Router) {
	a.sub = router.Subscribe("*", a.record)
	a.logger.Info().Msg("audit archive attached to event stream")
}

// Close detaches from the router and closes the database
func (a *Archive) Close() error {
	if a.sub != nil {
		a.sub.Cancel()
	}
	return a.db.Close()
}

// record archives one event. Write failures are logged and dropped; the
// archive must never push back on the event stream.
func (a *Archive) record(e events.Event) {
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		entry := Entry{
			Seq:       seq,
			Topic:     string(e.Topic),
			Source:    e.Source,
			Timestamp: e.Timestamp,
			Fields:    e.Fields,
			Diff:      e.Diff,
			Ticket:    e.Ticket,
			Run:       e.Run,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		// Diffs and tickets also get dedicated buckets keyed by source
		// so per-component history is one prefix scan
		if e.Diff != nil {
			if err := tx.Bucket(bucketDiffs).Put(componentKey(e.Diff.ComponentID, seq), data); err != nil {
				return err
			}
		}
		if e.Ticket != nil {
			if err := tx.Bucket(bucketTickets).Put(componentKey(e.Ticket.ComponentID, seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Error().Err(err).Str("topic", string(e.Topic)).Msg("archive write failed")
	}
}

// Events returns up to limit archived events, oldest first, starting
// after the given sequence number. Sequence 0 starts from the beginning.
func (a *Archive) Events(afterSeq uint64, limit int) ([]Entry, error) {
	var out []Entry
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil && len(out) < limit; k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// DiffHistory returns archived diffs for one component, oldest first
func (a *Archive) DiffHistory(componentID string) ([]types.StateDiff, error) {
	var out []types.StateDiff
	err := a.scanComponent(bucketDiffs, componentID, func(entry Entry) {
		if entry.Diff != nil {
			out = append(out, *entry.Diff)
		}
	})
	return out, err
}

// TicketHistory returns archived ticket events for one component,
// oldest first
func (a *Archive) TicketHistory(componentID string) ([]types.Ticket, error) {
	var out []types.Ticket
	err := a.scanComponent(bucketTickets, componentID, func(entry Entry) {
		if entry.Ticket != nil {
			out = append(out, *entry.Ticket)
		}
	})
	return out, err
}

func (a *Archive) scanComponent(bucket []byte, componentID string, visit func(Entry)) error {
	prefix := []byte(componentID + "/")
	return a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			visit(entry)
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func componentKey(componentID string, seq uint64) []byte {
	return append([]byte(componentID+"/"), seqKey(seq)...)
}
