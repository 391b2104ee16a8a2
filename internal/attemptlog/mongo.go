package attemptlog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo writes one document per attempt.
type Mongo struct {
	coll *mongo.Collection
}

// Connect opens a client for uri and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is not set")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewMongo returns a log backed by db.collection.
func NewMongo(client *mongo.Client, db, collection string) *Mongo {
	return &Mongo{coll: client.Database(db).Collection(collection)}
}

// EnsureIndexes creates the lookup index used by per-session queries.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "student_id", Value: 1}, {Key: "at", Value: -1}},
	})
	return err
}

// Append inserts the attempt.
func (m *Mongo) Append(ctx context.Context, a Attempt) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	if _, err := m.coll.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// ForStudent returns a student's attempts in a session, newest first.
func (m *Mongo) ForStudent(ctx context.Context, sessionID, studentID string) ([]Attempt, error) {
	cur, err := m.coll.Find(ctx,
		bson.M{"session_id": sessionID, "student_id": studentID},
		options.Find().SetSort(bson.D{{Key: "at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []Attempt
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
