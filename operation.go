// Package oplogtail exposes a MongoDB replica set oplog as a stream of typed
// operations. Raw oplog entries are schema-free BSON documents; Decode turns
// one entry into a member of the closed Operation set, and Oplog tails the
// live oplog collection yielding decoded operations as new writes occur.
package oplogtail

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Kind names an operation variant.
type Kind string

const (
	KindNoop    Kind = "noop"
	KindInsert  Kind = "insert"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindCommand Kind = "command"
)

// Operation is one decoded oplog entry. The set of implementations is closed:
// Noop, Insert, Update, Delete and Command.
type Operation interface {
	fmt.Stringer

	// Kind reports which variant this operation is.
	Kind() Kind

	operation()
}

// Noop is a no-op as inserted periodically by MongoDB or used to initiate new
// replica sets.
type Noop struct {
	ID        int64
	Timestamp time.Time
	Message   string
}

// Insert is an insert of a document into a specific database and collection.
type Insert struct {
	ID        int64
	Timestamp time.Time
	Namespace string
	Document  bson.Raw
}

// Update is an update of a document in a specific database and collection
// matching a given query.
type Update struct {
	ID        int64
	Timestamp time.Time
	Namespace string
	Query     bson.Raw
	Update    bson.Raw
}

// Delete is the deletion of a document in a specific database and collection
// matching a given query.
type Delete struct {
	ID        int64
	Timestamp time.Time
	Namespace string
	Query     bson.Raw
}

// Command is a command such as the creation or deletion of a collection.
type Command struct {
	ID        int64
	Timestamp time.Time
	Namespace string
	Command   bson.Raw
}

func (Noop) Kind() Kind    { return KindNoop }
func (Insert) Kind() Kind  { return KindInsert }
func (Update) Kind() Kind  { return KindUpdate }
func (Delete) Kind() Kind  { return KindDelete }
func (Command) Kind() Kind { return KindCommand }

func (Noop) operation()    {}
func (Insert) operation()  {}
func (Update) operation()  {}
func (Delete) operation()  {}
func (Command) operation() {}

func (op Noop) String() string {
	return fmt.Sprintf("No-op #%d at %s: %s", op.ID, op.Timestamp, op.Message)
}

func (op Insert) String() string {
	return fmt.Sprintf("Insert #%d into %s at %s: %s", op.ID, op.Namespace, op.Timestamp, op.Document)
}

func (op Update) String() string {
	return fmt.Sprintf("Update #%d %s with %s at %s: %s", op.ID, op.Namespace, op.Query, op.Timestamp, op.Update)
}

func (op Delete) String() string {
	return fmt.Sprintf("Delete #%d from %s at %s: %s", op.ID, op.Namespace, op.Timestamp, op.Query)
}

func (op Command) String() string {
	return fmt.Sprintf("Command #%d %s at %s: %s", op.ID, op.Namespace, op.Timestamp, op.Command)
}

// Decode converts a raw oplog entry into an Operation. It is total over its
// input: any document, however malformed, yields either an Operation or one of
// the errors in this package, never a panic. The entry's "op" field selects
// the variant; only its leading character is significant. The returned
// Operation owns copies of any payload documents and does not alias doc.
func Decode(doc bson.Raw) (Operation, error) {
	if err := doc.Validate(); err != nil {
		return nil, ErrInvalidOperation
	}

	val, err := doc.LookupErr("op")
	if err != nil {
		return nil, ErrInvalidOperation
	}
	code, ok := val.StringValueOK()
	if !ok {
		return nil, ErrInvalidOperation
	}

	if len(code) > 0 {
		switch code[0] {
		case 'n':
			return decodeNoop(doc)
		case 'i':
			return decodeInsert(doc)
		case 'u':
			return decodeUpdate(doc)
		case 'd':
			return decodeDelete(doc)
		case 'c':
			return decodeCommand(doc)
		}
	}

	return nil, &UnknownOperationError{Code: code}
}

func decodeNoop(doc bson.Raw) (Operation, error) {
	h, err := readInt64(doc, "h")
	if err != nil {
		return nil, err
	}
	ts, err := readTimestamp(doc, "ts")
	if err != nil {
		return nil, err
	}
	o, err := readDocument(doc, "o")
	if err != nil {
		return nil, err
	}
	msg, err := readString(o, "msg")
	if err != nil {
		return nil, err
	}

	return Noop{ID: h, Timestamp: ts, Message: msg}, nil
}

func decodeInsert(doc bson.Raw) (Operation, error) {
	h, err := readInt64(doc, "h")
	if err != nil {
		return nil, err
	}
	ts, err := readTimestamp(doc, "ts")
	if err != nil {
		return nil, err
	}
	ns, err := readString(doc, "ns")
	if err != nil {
		return nil, err
	}
	o, err := readDocument(doc, "o")
	if err != nil {
		return nil, err
	}

	return Insert{ID: h, Timestamp: ts, Namespace: ns, Document: o}, nil
}

func decodeUpdate(doc bson.Raw) (Operation, error) {
	h, err := readInt64(doc, "h")
	if err != nil {
		return nil, err
	}
	ts, err := readTimestamp(doc, "ts")
	if err != nil {
		return nil, err
	}
	ns, err := readString(doc, "ns")
	if err != nil {
		return nil, err
	}
	o, err := readDocument(doc, "o")
	if err != nil {
		return nil, err
	}
	o2, err := readDocument(doc, "o2")
	if err != nil {
		return nil, err
	}

	return Update{ID: h, Timestamp: ts, Namespace: ns, Query: o2, Update: o}, nil
}

func decodeDelete(doc bson.Raw) (Operation, error) {
	h, err := readInt64(doc, "h")
	if err != nil {
		return nil, err
	}
	ts, err := readTimestamp(doc, "ts")
	if err != nil {
		return nil, err
	}
	ns, err := readString(doc, "ns")
	if err != nil {
		return nil, err
	}
	o, err := readDocument(doc, "o")
	if err != nil {
		return nil, err
	}

	return Delete{ID: h, Timestamp: ts, Namespace: ns, Query: o}, nil
}

func decodeCommand(doc bson.Raw) (Operation, error) {
	h, err := readInt64(doc, "h")
	if err != nil {
		return nil, err
	}
	ts, err := readTimestamp(doc, "ts")
	if err != nil {
		return nil, err
	}
	ns, err := readString(doc, "ns")
	if err != nil {
		return nil, err
	}
	o, err := readDocument(doc, "o")
	if err != nil {
		return nil, err
	}

	return Command{ID: h, Timestamp: ts, Namespace: ns, Command: o}, nil
}

// fieldMissing marks an absent field in MissingFieldError.Got, as opposed to a
// present field of the wrong BSON type.
const fieldMissing = "missing"

func readInt64(doc bson.Raw, key string) (int64, error) {
	val, err := doc.LookupErr(key)
	if err != nil {
		return 0, &MissingFieldError{Field: key, Want: bsontype.Int64.String(), Got: fieldMissing}
	}
	n, ok := val.Int64OK()
	if !ok {
		return 0, &MissingFieldError{Field: key, Want: bsontype.Int64.String(), Got: val.Type.String()}
	}
	return n, nil
}

func readString(doc bson.Raw, key string) (string, error) {
	val, err := doc.LookupErr(key)
	if err != nil {
		return "", &MissingFieldError{Field: key, Want: bsontype.String.String(), Got: fieldMissing}
	}
	s, ok := val.StringValueOK()
	if !ok {
		return "", &MissingFieldError{Field: key, Want: bsontype.String.String(), Got: val.Type.String()}
	}
	return s, nil
}

func readDocument(doc bson.Raw, key string) (bson.Raw, error) {
	val, err := doc.LookupErr(key)
	if err != nil {
		return nil, &MissingFieldError{Field: key, Want: bsontype.EmbeddedDocument.String(), Got: fieldMissing}
	}
	sub, ok := val.DocumentOK()
	if !ok {
		return nil, &MissingFieldError{Field: key, Want: bsontype.EmbeddedDocument.String(), Got: val.Type.String()}
	}

	// Copy out of the input buffer: a cursor reuses it on the next advance.
	owned := make(bson.Raw, len(sub))
	copy(owned, sub)
	return owned, nil
}

func readTimestamp(doc bson.Raw, key string) (time.Time, error) {
	val, err := doc.LookupErr(key)
	if err != nil {
		return time.Time{}, &MissingFieldError{Field: key, Want: bsontype.Timestamp.String(), Got: fieldMissing}
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return time.Time{}, &MissingFieldError{Field: key, Want: bsontype.Timestamp.String(), Got: val.Type.String()}
	}
	return timestampToTime(t, i), nil
}

// timestampToTime converts a BSON timestamp to a UTC time. The timestamp's
// high 32 bits are POSIX seconds and its low 32 bits an ordinal counter within
// that second, carried over as milliseconds.
func timestampToTime(sec, ord uint32) time.Time {
	return time.Unix(int64(sec), int64(ord)*1000000).UTC()
}
