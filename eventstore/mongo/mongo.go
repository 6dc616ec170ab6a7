// Package mongo provides a MongoDB-backed EventStore reference
// implementation, grounded on the teacher's own run-log Mongo client: one
// document per event, a compound (session_id, position) index, and a thin
// collection interface wrapping *mongo.Collection so tests can substitute a
// fake instead of a live deployment.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/workflowerr"
)

const (
	defaultCollection = "flowkernel_events"
	defaultTimeout     = 5 * time.Second
)

// Options configures the Store.
type Options struct {
	// Client is a connected Mongo client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection defaults to "flowkernel_events" when empty.
	Collection string
	// Timeout bounds each individual operation. Defaults to 5s.
	Timeout time.Duration
}

// Store is a MongoDB-backed EventStore.
type Store struct {
	coll    collection
	timeout time.Duration

	mu       sync.Mutex
	sessions map[ids.SessionID]*sync.Mutex
}

var _ eventstore.EventStore = (*Store)(nil)

type eventDocument struct {
	SessionID string `bson:"session_id"`
	Position  int    `bson:"position"`
	Name      string `bson:"name"`
	Payload   []byte `bson:"payload"`
	EventID   string `bson:"event_id"`
	CausedBy  string `bson:"caused_by,omitempty"`
	TimestampNS int64 `bson:"ts_unix_ns"`
}

// Open connects opts.Client to opts.Database/opts.Collection and ensures the
// (session_id, position) index exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo store: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo store: database is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "position", Value: 1}},
	}
	if _, err := mcoll.Indexes().CreateOne(idxCtx, index); err != nil {
		return nil, fmt.Errorf("mongo store: create index: %w", err)
	}
	return newStore(mongoCollection{coll: mcoll}, timeout), nil
}

func newStore(coll collection, timeout time.Duration) *Store {
	return &Store{coll: coll, timeout: timeout, sessions: make(map[ids.SessionID]*sync.Mutex)}
}

func (s *Store) lockFor(sessionID ids.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[sessionID] = m
	}
	return m
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Append inserts ev at the next free position for sessionID, serialized
// against concurrent appends to the same session since Mongo itself gives no
// ordering guarantee across independent inserts.
func (s *Store) Append(ctx context.Context, sessionID ids.SessionID, ev event.Event) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	nextPos, err := s.nextPosition(opCtx, sessionID)
	if err != nil {
		return err
	}

	data, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mongo store: marshal event: %w", err)
	}
	var causedBy string
	if ev.CausedBy != nil {
		causedBy = string(*ev.CausedBy)
	}

	doc := eventDocument{
		SessionID:   string(sessionID),
		Position:    nextPos,
		Name:        string(ev.Name),
		Payload:     data,
		EventID:     string(ev.ID),
		CausedBy:    causedBy,
		TimestampNS: ev.Timestamp.UnixNano(),
	}
	if _, err := s.coll.InsertOne(opCtx, doc); err != nil {
		return fmt.Errorf("mongo store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) nextPosition(ctx context.Context, sessionID ids.SessionID) (int, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: -1}}).SetLimit(1)
	cur, err := s.coll.Find(ctx, bson.M{"session_id": string(sessionID)}, opts)
	if err != nil {
		return 0, fmt.Errorf("mongo store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		return 0, cur.Err()
	}
	var doc eventDocument
	if err := cur.Decode(&doc); err != nil {
		return 0, fmt.Errorf("mongo store: decode: %w", err)
	}
	return doc.Position + 1, nil
}

// GetAll returns every event recorded for sessionID, in position order.
func (s *Store) GetAll(ctx context.Context, sessionID ids.SessionID) ([]event.Event, error) {
	return s.query(ctx, bson.M{"session_id": string(sessionID)})
}

// GetFrom returns events for sessionID starting at position (inclusive).
func (s *Store) GetFrom(ctx context.Context, sessionID ids.SessionID, position int) ([]event.Event, error) {
	return s.query(ctx, bson.M{"session_id": string(sessionID), "position": bson.M{"$gte": position}})
}

func (s *Store) query(ctx context.Context, filter bson.M) ([]event.Event, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(opCtx, filter, options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	defer cur.Close(opCtx)

	var out []event.Event
	for cur.Next(opCtx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo store: decode: %w", err)
		}
		ev, err := event.Unmarshal(doc.Payload)
		if err != nil {
			return nil, fmt.Errorf("mongo store: unmarshal: %w", err)
		}
		out = append(out, ev)
	}
	return out, cur.Err()
}

// ListSessions returns the distinct session identifiers stored.
func (s *Store) ListSessions(ctx context.Context) ([]ids.SessionID, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.coll.Distinct(opCtx, "session_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	out := make([]ids.SessionID, 0, len(raw))
	for _, v := range raw {
		out = append(out, ids.SessionID(v))
	}
	return out, nil
}

// DeleteSession removes every document for sessionID. Returns
// ErrSessionNotFound if the session had no documents.
func (s *Store) DeleteSession(ctx context.Context, sessionID ids.SessionID) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.coll.DeleteMany(opCtx, bson.M{"session_id": string(sessionID)})
	if err != nil {
		return fmt.Errorf("mongo store: %w: %s", workflowerr.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("mongo store: %w: %s", workflowerr.ErrSessionNotFound, sessionID)
	}
	return nil
}

// collection is the subset of *mongo.Collection this store depends on,
// mirroring the teacher's own collection/cursor wrapper so tests can
// substitute an in-memory fake for a live deployment.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Distinct(ctx context.Context, fieldName string, filter any) ([]string, error)
	DeleteMany(ctx context.Context, filter any) (int64, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) Distinct(ctx context.Context, fieldName string, filter any) ([]string, error) {
	var out []string
	if err := c.coll.Distinct(ctx, fieldName, filter).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool  { return c.cur.Next(ctx) }
func (c mongoCursor) Decode(val any) error           { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                     { return c.cur.Err() }
func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
