package clients

import (
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/aws"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/datadog"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/mqtt"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/postgres"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/redis"
)

type ServerClients struct {
	Redis    redis.Client
	Postgres postgres.Client
	Mqtt     mqtt.MqttClient
	AWS      aws.Client
	DDClient datadog.Client
}
