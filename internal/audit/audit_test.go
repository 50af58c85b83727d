package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/booking-api/internal/database/dbtest"
	"github.com/ksred/booking-api/internal/events"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	db := dbtest.Open(t, &Log{})
	dispatcher := events.NewDispatcher(1, 8)
	pub := &recordingPublisher{}
	svc := NewService(db, dispatcher, pub)

	svc.Record(Entry{
		EntityType: EntityOrder,
		EntityID:   "ORD_1",
		Action:     ActionOrderCreated,
		ActorType:  ActorCustomer,
		ActorID:    "USR_1",
		Details:    map[string]any{"serviceId": "SVC_1", "totalPrice": "100.00"},
	})
	require.NoError(t, dispatcher.Close(context.Background()))

	logs, err := svc.List(context.Background(), EntityOrder, "ORD_1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionOrderCreated, logs[0].Action)

	var details map[string]string
	require.NoError(t, json.Unmarshal([]byte(logs[0].Details), &details))
	assert.Equal(t, "SVC_1", details["serviceId"])
	assert.Equal(t, []string{"audit.order_created"}, pub.keys)
}

func TestWriteIgnoresPublishFailure(t *testing.T) {
	db := dbtest.Open(t, &Log{})
	svc := NewService(db, events.NewDispatcher(1, 1), &recordingPublisher{err: errors.New("broker down")})

	err := svc.Write(context.Background(), Entry{EntityType: EntityOrder, EntityID: "ORD_2", Action: ActionOrderCancelled})
	require.NoError(t, err)

	logs, err := svc.List(context.Background(), EntityOrder, "ORD_2")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "{}", logs[0].Details)
}

func TestWriteKeepsOccurrenceTime(t *testing.T) {
	db := dbtest.Open(t, &Log{})
	svc := NewService(db, events.NewDispatcher(1, 1), nil)
	at := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	require.NoError(t, svc.Write(context.Background(), Entry{
		EntityType: EntityOrder,
		EntityID:   "ORD_3",
		Action:     ActionOrderAccepted,
		OccurredAt: at,
	}))
	require.NoError(t, svc.Write(context.Background(), Entry{
		EntityType: EntityOrder,
		EntityID:   "ORD_3",
		Action:     ActionOrderStarted,
	}))

	logs, err := svc.List(context.Background(), EntityOrder, "ORD_3")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.Equal(at), "created_at %s", logs[0].CreatedAt)
	assert.False(t, logs[1].CreatedAt.IsZero())
}
