package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"github.com/go-redis/redis/v8"
)

const (
	latestPrefix = "telemetry/"
)

type Client struct {
	client redis.Client
}

func NewRedisClient(redisURL string, tlsEnabled bool) (Client, error) {
	redisClient := Client{}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return redisClient, err
	}
	if tlsEnabled {
		options.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	redisClient.client = *redis.NewClient(options)

	return redisClient, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) GetAllTopics(ctx context.Context) ([]string, error) {
	keys, err := c.client.Keys(ctx, fmt.Sprintf("%s*", latestPrefix)).Result()
	if err != nil {
		return nil, err
	}
	topics := []string{}
	for _, k := range keys {
		topics = append(topics, strings.TrimPrefix(k, latestPrefix))
	}
	return topics, nil
}

// WriteLatest stores r as the newest report for its topic.
func (c *Client) WriteLatest(ctx context.Context, r telemetry.Record) error {
	latest := config.LatestRecord{
		TopicID:    r.TopicID,
		Kind:       string(r.Kind),
		Data:       r.Raw,
		ReceivedAt: r.ReceivedAt,
	}
	j, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("marshalling latest record: %w", err)
	}
	return c.client.Set(ctx, latestPrefix+r.TopicID, string(j), 0).Err()
}

// ReadAllLatest decodes the stored report of every topic. Entries that no
// longer decode are skipped and returned as a joined error alongside the rest.
func (c *Client) ReadAllLatest(ctx context.Context) ([]telemetry.Record, error) {
	records := []telemetry.Record{}
	keys, err := c.client.Keys(ctx, fmt.Sprintf("%s*", latestPrefix)).Result()
	if err != nil {
		return records, err
	}

	var badKeys []string
	for _, k := range keys {
		val, err := c.client.Get(ctx, k).Result()
		if err != nil {
			return records, err
		}

		var latest config.LatestRecord
		if err := json.Unmarshal([]byte(val), &latest); err != nil {
			badKeys = append(badKeys, k)
			continue
		}

		r, err := telemetry.Decode(latest.TopicID, latest.Data, latest.ReceivedAt)
		if err != nil {
			badKeys = append(badKeys, k)
			continue
		}
		records = append(records, r)
	}

	if len(badKeys) > 0 {
		return records, fmt.Errorf("decoding stored records: %s", strings.Join(badKeys, ", "))
	}
	return records, nil
}

func (c *Client) ReadLatest(ctx context.Context, topicID string) (telemetry.Record, error) {
	val, err := c.client.Get(ctx, latestPrefix+topicID).Result()
	if err != nil {
		return telemetry.Record{}, err
	}

	var latest config.LatestRecord
	if err := json.Unmarshal([]byte(val), &latest); err != nil {
		return telemetry.Record{}, fmt.Errorf("unmarshalling latest record: %w", err)
	}
	return telemetry.Decode(latest.TopicID, latest.Data, latest.ReceivedAt)
}
