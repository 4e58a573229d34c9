package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/wsgate/core/session"
)

// DefaultCollection is the collection sessions are stored in.
const DefaultCollection = "gateway_sessions"

// Store keeps one document per session, keyed by session ID.
type Store struct {
	coll *mongo.Collection
}

var _ session.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	collection string
}

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// New creates a session store on db.
func New(db *mongo.Database, opts ...Option) *Store {
	o := storeOptions{collection: DefaultCollection}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{coll: db.Collection(o.collection)}
}

// EnsureIndexes creates the secondary index on user_id used by roster queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return errors.Join(session.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (session.Session, error) {
	var sess session.Session
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&sess)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return session.Session{}, session.ErrNotFound
	case err != nil:
		return session.Session{}, errors.Join(session.ErrStoreUnavailable, err)
	}
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: sess.ID}},
		sess,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.Join(session.ErrStoreUnavailable, err)
	}
	return nil
}

// FindAll reads the whole collection ordered by session ID.
func (s *Store) FindAll(ctx context.Context) ([]session.Session, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Join(session.ErrStoreUnavailable, err)
	}

	sessions := []session.Session{}
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, errors.Join(session.ErrStoreUnavailable, err)
	}
	return sessions, nil
}
