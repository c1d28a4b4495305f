package mongostore_test

import (
	"testing"
	"time"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/andrej220/authclear/pkg/config/mongostore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func storeFor(mt *mtest.T) *mongostore.MongoStore {
	return &mongostore.MongoStore{Client: mt.Client, Collection: mt.Coll, ID: "authclear"}
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestLoad(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes settings", func(mt *mtest.T) {
		doc := bson.D{
			{Key: "_id", Value: "authclear"},
			{Key: "switch", Value: bson.D{
				{Key: "username", Value: "netops"},
				{Key: "password", Value: "pw"},
				{Key: "enablePassword", Value: "en"},
				{Key: "port", Value: int32(2222)},
				{Key: "connectTimeout", Value: int64(5 * time.Second)},
				{Key: "commandTimeout", Value: int64(time.Minute)},
			}},
			{Key: "maxConcurrency", Value: int32(4)},
			{Key: "breaker", Value: bson.D{{Key: "threshold", Value: int64(2)}}},
			{Key: "kafka", Value: bson.D{
				{Key: "brokers", Value: bson.A{"kafka-1:9092"}},
				{Key: "topic", Value: "nac-remediation"},
			}},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, doc))

		s := config.Defaults()
		require.NoError(mt, storeFor(mt).Load(&s))

		assert.Equal(mt, "netops", s.Switch.Username)
		assert.Equal(mt, "pw", s.Switch.Password)
		assert.Equal(mt, "en", s.Switch.EnablePassword)
		assert.Equal(mt, 2222, s.Switch.Port)
		assert.Equal(mt, 5*time.Second, s.Switch.ConnectTimeout)
		assert.Equal(mt, time.Minute, s.Switch.CommandTimeout)
		assert.Equal(mt, 4, s.MaxConcurrency)
		assert.Equal(mt, uint32(2), s.Breaker.Threshold)
		assert.Equal(mt, config.DefaultBreakerOpenTimeout, s.Breaker.OpenTimeout, "fields absent from the document keep their defaults")
		assert.Equal(mt, []string{"kafka-1:9092"}, s.Kafka.Brokers)
		assert.NoError(mt, s.Validate())

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "find", started.CommandName)
		assert.Equal(mt, "authclear", started.Command.Lookup("filter", "_id").StringValue())
	})

	mt.Run("missing document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		s := config.Defaults()
		err := storeFor(mt).Load(&s)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), `document with ID "authclear" not found`)
		assert.Equal(mt, config.Defaults(), s)
	})

	mt.Run("server error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized on authclear",
		}))

		var s config.Settings
		err := storeFor(mt).Load(&s)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "MongoDB FindOne failed")
		assert.Contains(mt, err.Error(), "not authorized")
	})

	mt.Run("nil output", func(mt *mtest.T) {
		assert.Error(mt, storeFor(mt).Load(nil))
	})
}

func TestSave(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("upserts by id", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "authclear"}}}},
		))

		s := config.Defaults()
		s.Switch.Username = "netops"
		require.NoError(mt, storeFor(mt).Save(s))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "update", started.CommandName)
		update := started.Command.Lookup("updates", "0")
		assert.Equal(mt, "authclear", update.Document().Lookup("q", "_id").StringValue())
		assert.True(mt, update.Document().Lookup("upsert").Boolean())
		assert.Equal(mt, "netops", update.Document().Lookup("u", "switch", "username").StringValue())
		assert.Equal(mt, int64(config.DefaultConnectTimeout), update.Document().Lookup("u", "switch", "connectTimeout").Int64())
	})

	mt.Run("server error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11000,
			Name:    "DuplicateKey",
			Message: "duplicate key",
		}))
		err := storeFor(mt).Save(config.Defaults())
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "ReplaceOne failed")
	})

	mt.Run("nil input", func(mt *mtest.T) {
		assert.Error(mt, storeFor(mt).Save(nil))
	})
}

func TestWatchIsNotSupported(t *testing.T) {
	store := &mongostore.MongoStore{ID: "authclear"}
	assert.Error(t, store.Watch(func() {}))
}
