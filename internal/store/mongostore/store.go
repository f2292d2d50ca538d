// Package mongostore keeps relay state in MongoDB, one document per key.
// Single-document atomicity gives append ($push) and drain
// (FindOneAndDelete) their indivisibility.
package mongostore

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/thereayou/signal-relay/internal/store"
)

const (
	defaultCollection       = "relay_keys"
	defaultMaxUpdateRetries = 16
)

type document struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value,omitempty"`
	Items     [][]byte   `bson:"items,omitempty"`
	IsList    bool       `bson:"list"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	Rev       int64      `bson:"rev"`
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithCollection(name string) Option {
	return func(s *Store) {
		s.collName = name
	}
}

type Store struct {
	client     *mongo.Client
	coll       *mongo.Collection
	collName   string
	now        func() time.Time
	maxRetries int
}

// Connect dials uri, checks the primary answers and prepares the ttl index.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	s := &Store{
		client:     client,
		collName:   defaultCollection,
		now:        time.Now,
		maxRetries: defaultMaxUpdateRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coll = client.Database(database).Collection(s.collName)

	// The ttl monitor only runs about once a minute; reads still filter on
	// expires_at themselves.
	_, err = s.coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) deadline(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl).UTC()
	return &t
}

func (s *Store) liveFilter(key string) bson.M {
	return bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": s.now().UTC()}},
		},
	}
}

func (s *Store) expired(doc *document) bool {
	return doc.ExpiresAt != nil && !s.now().Before(*doc.ExpiresAt)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc document
	err := s.coll.FindOne(ctx, s.liveFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.IsList {
		return nil, store.ErrWrongType
	}
	return doc.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := bson.M{"value": value, "list": false}
	unset := bson.M{"items": ""}
	if d := s.deadline(ttl); d != nil {
		set["expires_at"] = *d
	} else {
		unset["expires_at"] = ""
	}
	// rev keeps counting across overwrites so a pending Update cannot match
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": set, "$unset": unset, "$inc": bson.M{"rev": 1}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) ListAppend(ctx context.Context, key string, entry []byte) error {
	return s.push(ctx, key, entry, bson.M{"list": true}, nil)
}

func (s *Store) ListAppendExpire(ctx context.Context, key string, entry []byte, ttl time.Duration) error {
	set := bson.M{"list": true}
	var unset bson.M
	if d := s.deadline(ttl); d != nil {
		set["expires_at"] = *d
	} else {
		unset = bson.M{"expires_at": ""}
	}
	return s.push(ctx, key, entry, set, unset)
}

func (s *Store) push(ctx context.Context, key string, entry []byte, set, unset bson.M) error {
	// drop an expired document first so stale items are never revived
	_, err := s.coll.DeleteOne(ctx, bson.M{
		"_id":        key,
		"expires_at": bson.M{"$lte": s.now().UTC()},
	})
	if err != nil {
		return err
	}

	update := bson.M{
		"$push": bson.M{"items": entry},
		"$set":  set,
		"$inc":  bson.M{"rev": 1},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key, "list": bson.M{"$ne": false}},
		update,
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// the filter missed because a scalar lives under key
		return store.ErrWrongType
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return store.ErrWrongType
	}
	return nil
}

func (s *Store) ListDrain(ctx context.Context, key string) ([][]byte, error) {
	var doc document
	err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": key, "list": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := s.Get(ctx, key); gerr == nil {
			return nil, store.ErrWrongType
		}
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	if s.expired(&doc) || doc.Items == nil {
		return [][]byte{}, nil
	}
	return doc.Items, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var update bson.M
	if d := s.deadline(ttl); d != nil {
		update = bson.M{"$set": bson.M{"expires_at": *d}}
	} else {
		update = bson.M{"$unset": bson.M{"expires_at": ""}}
	}
	_, err := s.coll.UpdateOne(ctx, s.liveFilter(key), update)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// Update is a compare-and-swap on the document revision.
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	for i := 0; i < s.maxRetries; i++ {
		var doc document
		err := s.coll.FindOne(ctx, s.liveFilter(key)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if doc.IsList {
			return store.ErrWrongType
		}

		next, err := fn(doc.Value)
		if err != nil {
			return err
		}

		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": key, "rev": doc.Rev},
			bson.M{"$set": bson.M{"value": next}, "$inc": bson.M{"rev": 1}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return store.ErrConflict
}

func (s *Store) Count(ctx context.Context, prefix string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{
		"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": s.now().UTC()}},
		},
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
