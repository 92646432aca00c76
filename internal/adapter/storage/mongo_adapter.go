package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

// MongoTxn is a no-op handle: every write the optimistic adapter issues is a
// single-document operation, atomic on its own. Nothing partial exists to
// commit or roll back.
type MongoTxn struct{}

func (MongoTxn) Commit() error   { return nil }
func (MongoTxn) Rollback() error { return nil }

type MongoTxnSource struct{}

func (MongoTxnSource) Begin(context.Context) (port.TransactionHandle, error) {
	return MongoTxn{}, nil
}

type mongoItem struct {
	Key           string    `bson:"_id"`
	CurrentStock  int       `bson:"current_stock"`
	ReservedStock int       `bson:"reserved_stock"`
	Version       int64     `bson:"version"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type mongoReservation struct {
	ID           string    `bson:"_id"`
	InventoryKey string    `bson:"inventory_key"`
	Quantity     int       `bson:"quantity"`
	UserID       string    `bson:"user_id"`
	SessionID    string    `bson:"session_id"`
	State        string    `bson:"state"`
	CreatedAt    time.Time `bson:"created_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

// MongoAdapter serializes concurrent writers without locks: AcquireLock is a
// plain read that observes the document's version, and UpdateQuantity is a
// compare-and-swap on that version. Losers re-read and retry instead of
// waiting.
type MongoAdapter struct {
	items        *mongo.Collection
	reservations *mongo.Collection
}

func NewMongoAdapter(db *mongo.Database) *MongoAdapter {
	return &MongoAdapter{
		items:        db.Collection("inventory_items"),
		reservations: db.Collection("reservations"),
	}
}

func (m *MongoAdapter) AcquireLock(ctx context.Context, _ port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	var doc mongoItem
	err := m.items.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, port.LockToken{}, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, port.LockToken{}, fmt.Errorf("read %s: %w", key, err)
	}

	item := &domain.InventoryItem{
		Key:           doc.Key,
		CurrentStock:  doc.CurrentStock,
		ReservedStock: doc.ReservedStock,
		Version:       doc.Version,
		UpdatedAt:     doc.UpdatedAt,
	}
	return item, port.LockToken{Version: doc.Version}, nil
}

// UpdateQuantity performs one atomic findOneAndUpdate filtered on the
// observed version and on the stock guard. Zero matches means another writer
// got there first (or stock moved below the guard); the caller retries from
// the read step.
func (m *MongoAdapter) UpdateQuantity(ctx context.Context, _ port.TransactionHandle, key string, token port.LockToken, delta int) error {
	filter := bson.M{
		"_id":           key,
		"version":       token.Version,
		"current_stock": bson.M{"$gte": -delta},
	}
	update := bson.M{
		"$inc": bson.M{"current_stock": delta, "version": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}

	err := m.items.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("update quantity %s: %w", key, domain.ErrConcurrentModification)
	}
	if err != nil {
		return fmt.Errorf("update quantity %s: %w", key, err)
	}
	return nil
}

func (m *MongoAdapter) AdjustReserved(ctx context.Context, _ port.TransactionHandle, key string, delta int) error {
	filter := bson.M{
		"_id":            key,
		"reserved_stock": bson.M{"$gte": -delta},
	}
	update := bson.M{
		"$inc": bson.M{"reserved_stock": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}

	err := m.items.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("adjust reserved %s: %w", key, domain.ErrItemNotFound)
	}
	if err != nil {
		return fmt.Errorf("adjust reserved %s: %w", key, err)
	}
	return nil
}

func (m *MongoAdapter) InsertReservation(ctx context.Context, _ port.TransactionHandle, res *domain.Reservation) error {
	_, err := m.reservations.InsertOne(ctx, toMongoReservation(res))
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", res.ID, err)
	}
	return nil
}

func (m *MongoAdapter) GetReservation(ctx context.Context, _ port.TransactionHandle, id string) (*domain.Reservation, error) {
	var doc mongoReservation
	err := m.reservations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return fromMongoReservation(&doc), nil
}

func (m *MongoAdapter) TransitionReservation(ctx context.Context, txn port.TransactionHandle, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	filter := bson.M{"_id": id, "state": string(from)}
	update := bson.M{"$set": bson.M{"state": string(to)}}

	err := m.reservations.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := m.GetReservation(ctx, txn, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("transition reservation %s: %w", id, err)
	}

	return m.GetReservation(ctx, txn, id)
}

func (m *MongoAdapter) ListExpiredReservations(ctx context.Context, _ port.TransactionHandle, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := m.reservations.Find(ctx, bson.M{
		"state":      string(domain.ReservationActive),
		"expires_at": bson.M{"$lt": cutoff},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var expired []*domain.Reservation
	for cursor.Next(ctx) {
		var doc mongoReservation
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode expired reservation: %w", err)
		}
		expired = append(expired, fromMongoReservation(&doc))
	}
	return expired, cursor.Err()
}

func toMongoReservation(res *domain.Reservation) *mongoReservation {
	return &mongoReservation{
		ID:           res.ID,
		InventoryKey: res.InventoryKey,
		Quantity:     res.Quantity,
		UserID:       res.UserID,
		SessionID:    res.SessionID,
		State:        string(res.State),
		CreatedAt:    res.CreatedAt,
		ExpiresAt:    res.ExpiresAt,
	}
}

func fromMongoReservation(doc *mongoReservation) *domain.Reservation {
	return &domain.Reservation{
		ID:           doc.ID,
		InventoryKey: doc.InventoryKey,
		Quantity:     doc.Quantity,
		UserID:       doc.UserID,
		SessionID:    doc.SessionID,
		State:        domain.ReservationState(doc.State),
		CreatedAt:    doc.CreatedAt,
		ExpiresAt:    doc.ExpiresAt,
	}
}
