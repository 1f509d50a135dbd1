package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollections holds schema_mapping collection names. Empty fields use defaults.
type MongoCollections struct {
	Transactions string
	Entitlements string
}

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client       *mongo.Client
	transactions *mongo.Collection
	entitlements *mongo.Collection
	metrics      *metrics.Metrics
	now          func() time.Time
}

// mongoEntitlement is the stored form of a grant; _id is user|content|kind.
type mongoEntitlement struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user_id"`
	ContentID     string     `bson:"content_id"`
	Kind          string     `bson:"kind"`
	GrantedAt     time.Time  `bson:"granted_at"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty"`
	TransactionID string     `bson:"transaction_id,omitempty"`
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string, collections MongoCollections) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collections.Transactions == "" {
		collections.Transactions = "payment_transactions"
	}
	if collections.Entitlements == "" {
		collections.Entitlements = "entitlements"
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:       client,
		transactions: db.Collection(collections.Transactions),
		entitlements: db.Collection(collections.Entitlements),
		now:          time.Now,
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// WithMetrics records query durations on m.
func (s *MongoDBStore) WithMetrics(m *metrics.Metrics) *MongoDBStore {
	s.metrics = m
	return s
}

func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	_, err = s.entitlements.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create entitlement indexes: %w", err)
	}
	return nil
}

// SaveTransaction implements Store. The filter only matches a pending record
// or one with the same status, so a duplicate-key error on upsert means the
// record is settled with a different outcome.
func (s *MongoDBStore) SaveTransaction(ctx context.Context, rec TransactionRecord) error {
	if err := validateTransaction(&rec, s.now()); err != nil {
		return err
	}
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpSaveTransaction)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id": rec.ID,
		"$or": []bson.M{
			{"status": string(access.StatusPending)},
			{"status": string(rec.Status)},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     rec.Status,
			"step":       rec.Step,
			"reason":     rec.Reason,
			"updated_at": rec.UpdatedAt,
		},
		"$max": bson.M{"poll_attempts": rec.PollAttempts},
		"$setOnInsert": bson.M{
			"user_id":         rec.UserID,
			"content_id":      rec.ContentID,
			"kind":            rec.Kind,
			"amount":          rec.Amount,
			"currency":        rec.Currency,
			"period":          rec.Period,
			"plan":            rec.Plan,
			"payer_phone":     rec.PayerPhone,
			"idempotency_key": rec.IdempotencyKey,
			"created_at":      rec.CreatedAt,
		},
	}
	if rec.SettledAt != nil {
		update["$min"] = bson.M{"settled_at": *rec.SettledAt}
	}

	_, err := s.transactions.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrSettled
	}
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// GetTransaction implements Store.
func (s *MongoDBStore) GetTransaction(ctx context.Context, id string) (TransactionRecord, error) {
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpGetTransaction)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var rec TransactionRecord
	err := s.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return TransactionRecord{}, ErrNotFound
	}
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("query transaction: %w", err)
	}
	return rec, nil
}

// ListUserTransactions implements Store.
func (s *MongoDBStore) ListUserTransactions(ctx context.Context, userID string) ([]TransactionRecord, error) {
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpListTransactions)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.transactions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []TransactionRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return out, nil
}

// SaveEntitlement implements Store. The merge runs client-side; concurrent
// grants for the same key are rare enough that last-writer-wins is acceptable.
func (s *MongoDBStore) SaveEntitlement(ctx context.Context, ent access.Entitlement) error {
	if err := validateEntitlement(&ent, s.now()); err != nil {
		return err
	}
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpSaveEntitlement)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	id := entitlementDocID(ent)
	var existing mongoEntitlement
	err := s.entitlements.FindOne(ctx, bson.M{"_id": id}).Decode(&existing)
	switch {
	case err == nil:
		ent = mergeEntitlement(existing.toEntitlement(), ent)
	case !errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("load entitlement: %w", err)
	}

	doc := toMongoEntitlement(ent)
	_, err = s.entitlements.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save entitlement: %w", err)
	}
	return nil
}

// ListEntitlements implements Store.
func (s *MongoDBStore) ListEntitlements(ctx context.Context, userID string) ([]access.Entitlement, error) {
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpListEntitlements)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	cursor, err := s.entitlements.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoEntitlement
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode entitlements: %w", err)
	}
	out := make([]access.Entitlement, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toEntitlement())
	}
	sortEntitlements(out)
	return out, nil
}

// ReplaceEntitlements implements Store.
func (s *MongoDBStore) ReplaceEntitlements(ctx context.Context, userID string, ents []access.Entitlement) error {
	now := s.now()
	merged := make(map[string]access.Entitlement, len(ents))
	for i := range ents {
		ents[i].UserID = userID
		if err := validateEntitlement(&ents[i], now); err != nil {
			return fmt.Errorf("entitlement %d: %w", i, err)
		}
		id := entitlementDocID(ents[i])
		if prev, ok := merged[id]; ok {
			merged[id] = mergeEntitlement(prev, ents[i])
		} else {
			merged[id] = ents[i]
		}
	}
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpReplaceEntitlements)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if _, err := s.entitlements.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("delete entitlements: %w", err)
	}
	if len(merged) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(merged))
	for _, ent := range merged {
		docs = append(docs, toMongoEntitlement(ent))
	}
	if _, err := s.entitlements.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert entitlements: %w", err)
	}
	return nil
}

// ArchiveSettledTransactions implements Store.
func (s *MongoDBStore) ArchiveSettledTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	defer metrics.TimeStoreOp(s.metrics, "mongodb", metrics.OpArchiveTransactions)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.transactions.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$ne": string(access.StatusPending)},
		"updated_at": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, fmt.Errorf("archive transactions: %w", err)
	}
	return result.DeletedCount, nil
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func entitlementDocID(ent access.Entitlement) string {
	return ent.UserID + "|" + ent.ContentID + "|" + string(ent.Kind)
}

func toMongoEntitlement(ent access.Entitlement) mongoEntitlement {
	return mongoEntitlement{
		ID:            entitlementDocID(ent),
		UserID:        ent.UserID,
		ContentID:     ent.ContentID,
		Kind:          string(ent.Kind),
		GrantedAt:     ent.GrantedAt,
		ExpiresAt:     ent.ExpiresAt,
		TransactionID: ent.TransactionID,
	}
}

func (d mongoEntitlement) toEntitlement() access.Entitlement {
	return access.Entitlement{
		UserID:        d.UserID,
		ContentID:     d.ContentID,
		Kind:          access.Kind(d.Kind),
		GrantedAt:     d.GrantedAt,
		ExpiresAt:     d.ExpiresAt,
		TransactionID: d.TransactionID,
	}
}
