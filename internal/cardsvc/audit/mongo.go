package audit

import (
	"context"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/db"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	EventsCollection   = "card_events"
	RejectedCollection = "rejected_callbacks"
)

// Mongo stores the trail in two collections whose documents expire after retention.
// Writes are best effort: a failed insert is logged and never reaches the registry.
type Mongo struct {
	db        *mongo.Database
	retention time.Duration
	timeout   time.Duration
}

func NewMongo(ctx context.Context, database *mongo.Database, retention time.Duration) (*Mongo, error) {
	for _, name := range []string{EventsCollection, RejectedCollection} {
		if err := db.CreateTTLIndexForCollection(ctx, database, name); err != nil {
			return nil, err
		}
	}
	return &Mongo{db: database, retention: retention, timeout: 5 * time.Second}, nil
}

func eventDoc(e models.Event, expires time.Time) bson.M {
	doc := bson.M{
		"type":       string(e.Type),
		"holder":     string(e.Holder),
		"sequence":   int64(e.Sequence),
		"amount":     e.Amount.String(),
		"request_id": string(e.RequestID),
		"at":         e.At,
		"expires_at": expires,
	}
	if e.Attributes != nil {
		doc["attributes"] = bson.M{
			"version": e.Attributes.Version,
			"rarity":  string(e.Attributes.Rarity),
			"element": e.Attributes.Element,
			"attack":  e.Attributes.Attack,
			"defense": e.Attributes.Defense,
			"speed":   e.Attributes.Speed,
		}
	}
	return doc
}

func rejectedDoc(rc models.RejectedCallback, expires time.Time) bson.M {
	return bson.M{
		"request_id": string(rc.RequestID),
		"reason":     rc.Reason,
		"words":      rc.Words,
		"at":         rc.At,
		"expires_at": expires,
	}
}

func (m *Mongo) insert(ctx context.Context, collection string, doc bson.M) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		log.Errorf("audit insert into %s: %v", collection, err)
	}
}

func (m *Mongo) Publish(ctx context.Context, e models.Event) {
	m.insert(ctx, EventsCollection, eventDoc(e, e.At.Add(m.retention)))
}

func (m *Mongo) Rejected(ctx context.Context, rc models.RejectedCallback) {
	m.insert(ctx, RejectedCollection, rejectedDoc(rc, rc.At.Add(m.retention)))
}

// RecentRejected returns the newest rejected callbacks first.
func (m *Mongo) RecentRejected(ctx context.Context, limit int64) ([]models.RejectedCallback, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(limit)
	cur, err := m.db.Collection(RejectedCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RejectedCallback
	for cur.Next(ctx) {
		var doc struct {
			RequestID string    `bson:"request_id"`
			Reason    string    `bson:"reason"`
			Words     int       `bson:"words"`
			At        time.Time `bson:"at"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, models.RejectedCallback{
			RequestID: models.RequestID(doc.RequestID),
			Reason:    doc.Reason,
			Words:     doc.Words,
			At:        doc.At.UTC(),
		})
	}
	return out, cur.Err()
}
