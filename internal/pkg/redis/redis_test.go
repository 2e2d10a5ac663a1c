package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, Client) {
	mr := miniredis.RunT(t)
	c, err := NewRedisClient("redis://"+mr.Addr(), false)
	require.NoError(t, err)
	return mr, c
}

func decode(t *testing.T, topic, payload string, at time.Time) telemetry.Record {
	r, err := telemetry.Decode(topic, []byte(payload), at)
	require.NoError(t, err)
	return r
}

func Test_WriteAndReadLatest(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.WriteLatest(ctx, decode(t, "gw1/d1", `{"address":"DOOR-1","elementType":"3"}`, at)))
	require.NoError(t, c.WriteLatest(ctx, decode(t, "gw1/room2", `{"heart":71,"uid":"r2"}`, at.Add(time.Minute))))
	require.NoError(t, c.WriteLatest(ctx, decode(t, "gw1/d1", `{"address":"DOOR-1","elementType":"3","event":"open"}`, at.Add(2*time.Minute))))

	records, err := c.ReadAllLatest(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	sort.Slice(records, func(i, j int) bool { return records[i].TopicID < records[j].TopicID })

	assert.Equal(t, "gw1/d1", records[0].TopicID)
	assert.Equal(t, telemetry.KindElicit, records[0].Kind)
	assert.Equal(t, "open", records[0].Elicit.Event.String())
	assert.True(t, at.Add(2*time.Minute).Equal(records[0].ReceivedAt))
	assert.Equal(t, telemetry.KindRadar, records[1].Kind)

	r, err := c.ReadLatest(ctx, "gw1/room2")
	require.NoError(t, err)
	assert.Equal(t, "71", r.Radar.Heart.String())

	topics, err := c.GetAllTopics(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gw1/d1", "gw1/room2"}, topics)
}

func Test_ReadAllLatestSkipsCorrupt(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.WriteLatest(ctx, decode(t, "gw/d1", `{"address":"DOOR-1"}`, time.Now())))
	require.NoError(t, mr.Set("telemetry/gw/bad", "{not json"))

	records, err := c.ReadAllLatest(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry/gw/bad")
	require.Len(t, records, 1)
	assert.Equal(t, "gw/d1", records[0].TopicID)
}

func Test_ReadLatestMissing(t *testing.T) {
	_, c := setupTestRedis(t)

	_, err := c.ReadLatest(context.Background(), "gw/none")
	assert.Error(t, err)
}
