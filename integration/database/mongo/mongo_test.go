package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/wsgate/integration/database/mongo"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()

	_, err := mongo.New(context.Background(), mongo.Config{})
	assert.ErrorIs(t, err, mongo.ErrEmptyConnectionURL)
}

func TestNew_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := mongo.New(context.Background(), mongo.Config{
		ConnectionURL:  "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=100",
		ConnectTimeout: 200 * time.Millisecond,
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, mongo.ErrFailedToConnectToMongo)
}

func TestNewWithDatabase(t *testing.T) {
	url := os.Getenv("MONGODB_URL")
	if url == "" {
		t.Skip("MONGODB_URL not set")
	}

	ctx := context.Background()
	db, err := mongo.NewWithDatabase(ctx, mongo.Config{ConnectionURL: url, Database: "wsgate_test", RetryAttempts: 1}, "")
	require.NoError(t, err)
	defer db.Client().Disconnect(ctx)

	assert.Equal(t, "wsgate_test", db.Name())
	assert.NoError(t, mongo.Healthcheck(db.Client())(ctx))
}
