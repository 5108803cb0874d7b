package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"stockstream/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collection names
const (
	MongoDBName             = "stockstream"
	MongoSnapshotCollection = "live_snapshots"
)

// MongoSnapshotClient mirrors the latest live state into MongoDB so external
// query surfaces can read it without touching the engine. Disabled when no
// URI is configured.
type MongoSnapshotClient struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
}

// mongoSymbolState is the BSON-friendly view of one symbol's live state.
// Decimal values are stored as strings to avoid lossy float round-trips.
type mongoSymbolState struct {
	Symbol      string     `bson:"symbol"`
	Price       string     `bson:"price,omitempty"`
	Volume      int64      `bson:"volume,omitempty"`
	TickAt      *time.Time `bson:"tick_at,omitempty"`
	Predicted   string     `bson:"predicted,omitempty"`
	Confidence  float64    `bson:"confidence,omitempty"`
	PredictedAt *time.Time `bson:"predicted_at,omitempty"`
}

// mongoSnapshot is the persisted latest-state document, one per symbol set.
type mongoSnapshot struct {
	ID        string                      `bson:"_id"`
	UpdatedAt time.Time                   `bson:"updated_at"`
	Count     int                         `bson:"count"`
	Symbols   map[string]mongoSymbolState `bson:"symbols"`
}

func toMongoState(state models.SymbolState) mongoSymbolState {
	doc := mongoSymbolState{Symbol: state.Symbol}
	if state.Tick != nil {
		doc.Price = state.Tick.Price.String()
		doc.Volume = state.Tick.Volume
		ts := state.Tick.Timestamp
		doc.TickAt = &ts
	}
	if state.Prediction != nil {
		doc.Predicted = state.Prediction.Value.String()
		doc.Confidence = state.Prediction.Confidence
		ts := state.Prediction.GeneratedAt
		doc.PredictedAt = &ts
	}
	return doc
}

// Global MongoDB snapshot client instance
var GlobalMongoSnapshot *MongoSnapshotClient

// InitMongoSnapshot initializes the MongoDB snapshot client.
func InitMongoSnapshot(uri string) error {
	if uri == "" {
		log.Println("MONGODB_URI not set, MongoDB snapshot mirror disabled")
		GlobalMongoSnapshot = &MongoSnapshotClient{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}
		return nil
	}

	GlobalMongoSnapshot = &MongoSnapshotClient{uriSet: true}
	return GlobalMongoSnapshot.connect(uri)
}

func (m *MongoSnapshotClient) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		m.setError(fmt.Sprintf("connect failed: %v", err))
		return fmt.Errorf("mongodb connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.setError(fmt.Sprintf("ping failed: %v", err))
		return fmt.Errorf("mongodb ping failed: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(MongoDBName)
	m.isConnected = true
	m.mu.Unlock()

	log.Println("Connected to MongoDB snapshot mirror")
	return nil
}

func (m *MongoSnapshotClient) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.isConnected = false
	m.mu.Unlock()
}

// IsConnected reports whether the mirror is usable.
func (m *MongoSnapshotClient) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// UpsertSnapshot writes the current live state as a single document.
func (m *MongoSnapshotClient) UpsertSnapshot(snapshot map[string]models.SymbolState) error {
	m.mu.RLock()
	connected := m.isConnected
	db := m.database
	m.mu.RUnlock()

	if !connected {
		return fmt.Errorf("mongodb not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	symbols := make(map[string]mongoSymbolState, len(snapshot))
	for sym, state := range snapshot {
		symbols[sym] = toMongoState(state)
	}

	doc := mongoSnapshot{
		ID:        "latest",
		UpdatedAt: time.Now(),
		Count:     len(symbols),
		Symbols:   symbols,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := db.Collection(MongoSnapshotCollection).
		ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoSnapshotClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.isConnected = false
	return m.client.Disconnect(ctx)
}
