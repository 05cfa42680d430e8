package oplogtail

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"
)

// Cursor is the subset of the driver cursor the tailer relies on. Production
// code wraps *mongo.Cursor; tests substitute a fake.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

type driverCursor struct {
	*mongo.Cursor
}

func (c driverCursor) Current() bson.Raw {
	return c.Cursor.Current
}

// Options configures an Oplog at construction. The zero value tails every
// entry in the oplog.
type Options struct {
	// Filter restricts which raw entries the server returns, e.g. only insert
	// operations or only entries after a given timestamp. Nil matches all.
	Filter bson.D
}

// Oplog tails a MongoDB replica set oplog, yielding one Operation per logged
// write. It owns exactly one live tailable cursor and is not safe for
// concurrent use; give each consumer its own Oplog or serialize access.
type Oplog struct {
	cursor Cursor
}

// Open returns an Oplog for the given client tailing every oplog entry.
func Open(ctx context.Context, client *mongo.Client) (*Oplog, error) {
	return New(ctx, client, Options{})
}

// New returns an Oplog for the given client with the given options. The
// underlying cursor is tailable, awaits new data instead of closing when it
// runs dry, and never times out from inactivity.
func New(ctx context.Context, client *mongo.Client, opts Options) (*Oplog, error) {
	coll := client.Database(oplogDatabase).Collection(oplogCollection)

	filter := opts.Filter
	if filter == nil {
		filter = bson.D{}
	}

	findOpts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true)

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, &DatabaseError{Err: err}
	}

	return &Oplog{cursor: driverCursor{cursor}}, nil
}

// Next blocks until the next decodable oplog entry arrives and returns it.
// Entries that fail to decode are skipped without surfacing anything to the
// caller. The stream has no natural end: absent an error, Next waits
// indefinitely for new writes. A cursor failure (including ctx cancellation)
// is returned as a DatabaseError; it is up to the caller whether to retry
// with a fresh Oplog.
func (o *Oplog) Next(ctx context.Context) (Operation, error) {
	for {
		if o.cursor.Next(ctx) {
			op, err := Decode(o.cursor.Current())
			if err != nil {
				continue
			}
			return op, nil
		}
		if err := o.cursor.Err(); err != nil {
			return nil, &DatabaseError{Err: err}
		}
		// The tailable cursor ran dry without error; keep awaiting.
	}
}

// Close releases the underlying cursor.
func (o *Oplog) Close(ctx context.Context) error {
	return o.cursor.Close(ctx)
}

// FilterOps restricts an oplog query to the given operation codes.
func FilterOps(codes ...string) bson.D {
	return bson.D{{Key: "op", Value: bson.D{{Key: "$in", Value: codes}}}}
}

// FilterNamespace restricts an oplog query to a single database.collection
// namespace.
func FilterNamespace(ns string) bson.D {
	return bson.D{{Key: "ns", Value: ns}}
}

// FilterSince restricts an oplog query to entries at or after t.
func FilterSince(t time.Time) bson.D {
	ts := primitive.Timestamp{T: uint32(t.Unix())}
	return bson.D{{Key: "ts", Value: bson.D{{Key: "$gte", Value: ts}}}}
}

// And combines filter clauses into a single query document.
func And(filters ...bson.D) bson.D {
	var merged bson.D
	for _, f := range filters {
		merged = append(merged, f...)
	}
	return merged
}
