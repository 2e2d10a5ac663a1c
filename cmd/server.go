package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/aws"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/clients"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/dashboard"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/datadog"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/feed"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/mqtt"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/postgres"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/redis"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	mqttC "github.com/eclipse/paho.mqtt.golang"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	logger  *zap.SugaredLogger
	version = "unknown"
)

const (
	dataRetentionCronFrequency = 12 * time.Hour
	fullBackupCronFrequency    = 6 * time.Hour
	defaultMaxRetentionRows    = 10000
)

func newLogger(format string) *zap.Logger {
	var l *zap.Logger
	var err error
	if format == "console" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func loadServerConfig() config.ServerConfig {
	loc, err := time.LoadLocation(viper.GetString("TIMETBL_LOCATION"))
	if err != nil {
		logger.Fatalf("loading timetbl location: %s", err)
	}

	topic := viper.GetString("TELEMETRY_TOPIC")
	if topic == "" {
		topic = config.DefaultTelemetryTopic
	}

	return config.ServerConfig{
		AppName:        viper.GetString("APP_NAME"),
		MqttBrokerURL:  viper.GetString("MQTT_BROKER_URL"),
		MqttUser:       viper.GetString("MQTT_USER"),
		MqttPassword:   viper.GetString("MQTT_PASSWORD"),
		TelemetryTopic: topic,
		RedisURL:       viper.GetString("REDIS_URL"),
		RedisTLSURL:    viper.GetString("REDIS_TLS_URL"),
		PostgresURL:    viper.GetString("DATABASE_URL"),
		Port:           viper.GetString("PORT"),
		MockMode:       viper.GetBool("MOCK_MODE"),
		LogFormat:      viper.GetString("LOG_FORMAT"),
		Version:        version,
		AllowedAPIKeys: viper.GetStringSlice("ALLOWED_API_KEYS"),
		GoogleConfig: config.GoogleConfig{
			AuthorizedUsers: viper.GetString("AUTHORIZED_USERS"),
			ClientId:        viper.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret:    viper.GetString("GOOGLE_CLIENT_SECRET"),
			RedirectURL:     viper.GetString("REDIRECT_URL"),
			SessionSecret:   viper.GetString("SESSION_SECRET"),
		},
		DatadogConfig: config.DatadogConfig{
			APIKey: viper.GetString("DD_API_KEY"),
			APPKey: viper.GetString("DD_APP_KEY"),
		},
		S3Config: config.S3Config{
			AccessKeyID:       viper.GetString("SPACES_AWS_ACCESS_KEY_ID"),
			SecretAccessKey:   viper.GetString("SPACES_AWS_SECRET_ACCESS_KEY"),
			Region:            viper.GetString("SPACES_AWS_REGION"),
			URL:               viper.GetString("SPACES_URL"),
			Bucket:            viper.GetString("SPACES_BUCKET_NAME"),
			RetentionEnabled:  viper.GetBool("DB_RETENTION_ENABLED"),
			MaxRetentionRows:  parseRetentionRowsConfig(viper.GetString("DB_MAX_RETENTION_ROWS")),
			FullBackupEnabled: viper.GetBool("DB_FULL_BACKUP_ENABLED"),
		},
		DashboardConfig: config.DashboardConfig{
			HighlightWindow:   viper.GetDuration("HIGHLIGHT_WINDOW"),
			HighlightCapacity: viper.GetInt("HIGHLIGHT_CAPACITY"),
			FeedMaxRecords:    viper.GetInt("FEED_MAX_RECORDS"),
			TimetblLocation:   loc,
		},
	}
}

func runServer() {
	l := newLogger(viper.GetString("LOG_FORMAT"))
	logger = l.Sugar().Named("device_monitor_server")
	defer logger.Sync()
	logger.Infof("Running server version: %s", version)

	serverConfig := loadServerConfig()

	serverClients, err := createClients(serverConfig)
	if err != nil {
		logger.Fatalf("Error creating clients: %s", err)
	}

	if err := serverClients.Redis.Ping(context.Background()); err != nil {
		logger.Fatalf("error connecting to redis: %s", err)
	}

	f := feed.New(serverConfig.DashboardConfig.FeedMaxRecords)
	seeded, err := serverClients.Redis.ReadAllLatest(context.Background())
	if err != nil {
		logger.Warnf("seeding feed from redis: %s", err)
	}
	f.Seed(seeded)
	logger.Infof("Seeded feed with %d stored records", len(seeded))

	// set before any record can be touched, the handler only runs after subscribe
	var webServer *WebServer
	highlighter, err := telemetry.NewHighlighter(
		serverConfig.DashboardConfig.HighlightWindow,
		serverConfig.DashboardConfig.HighlightCapacity,
		telemetry.WithChangeHandler(func(key string, h telemetry.Highlight) {
			if webServer != nil {
				webServer.SendHighlight(key, h)
			}
		}),
	)
	if err != nil {
		logger.Fatalf("creating highlighter: %s", err)
	}

	classifier := telemetry.NewClassifier(l.Sugar().Named("device_monitor_classifier"), serverConfig.DashboardConfig.TimetblLocation)
	service := dashboard.NewService(f, classifier, highlighter, l.Sugar().Named("device_monitor_feed"))

	webServer = newWebServer(serverConfig, serverClients, service)

	if err := serverClients.Mqtt.Connect(); err != nil {
		logger.Fatalf("error connecting to mqtt broker: %s", err)
	}

	err = serverClients.Mqtt.Subscribe(serverConfig.TelemetryTopic, func(topic string, payload []byte) {
		err := handleTelemetry(serverClients, webServer, service, topic, payload)
		if err != nil {
			logger.Errorf("handling telemetry on %s: %s", topic, err)
		}
	})
	if err != nil {
		logger.Fatalf("subscribing to %s: %s", serverConfig.TelemetryTopic, err)
	}

	if serverConfig.S3Config.FullBackupEnabled {
		runFullBackup(serverClients)
	}

	if serverConfig.S3Config.RetentionEnabled {
		runDataRetention(serverClients, serverConfig)
	}

	configureCronJobs(serverClients, serverConfig, service)

	broadcastCtx, stopBroadcast := context.WithCancel(context.Background())
	go webServer.broadcastDeviceList(broadcastCtx, deviceListBroadcastInterval)

	go handleShutdown(serverClients, webServer, service, stopBroadcast)

	err = webServer.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Error starting web server: %s", err)
	}
}

func handleShutdown(serverClients clients.ServerClients, webServer *WebServer, service *dashboard.Service, stopBroadcast context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Cleaning up")
	serverClients.Mqtt.Cleanup()
	stopBroadcast()
	service.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("shutting down web server: %s", err)
	}
}

// handleTelemetry records one broker message and marks the device list for the
// next broadcast. Persistence failures are returned after the in-memory view is
// updated.
func handleTelemetry(serverClients clients.ServerClients, webServer *WebServer, service *dashboard.Service, topic string, payload []byte) error {
	r, err := telemetry.Decode(topic, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}

	service.Ingest(r)
	webServer.MarkDeviceListChanged()

	if err := serverClients.Redis.WriteLatest(context.Background(), r); err != nil {
		return fmt.Errorf("writing latest record to redis: %w", err)
	}

	if err := serverClients.Postgres.WriteRecord(r); err != nil {
		return fmt.Errorf("writing record to postgres: %w", err)
	}

	return nil
}

func configureCronJobs(serverClients clients.ServerClients, serverConfig config.ServerConfig, service *dashboard.Service) {
	if serverConfig.S3Config.RetentionEnabled {
		dataTicker := time.NewTicker(dataRetentionCronFrequency)
		go func() {
			for range dataTicker.C {
				runDataRetention(serverClients, serverConfig)
			}
		}()
	}

	if serverConfig.S3Config.FullBackupEnabled {
		dataTicker := time.NewTicker(fullBackupCronFrequency)
		go func() {
			for range dataTicker.C {
				runFullBackup(serverClients)
			}
		}()
	}

	if !serverConfig.MockMode {
		t := time.NewTicker(config.MetricsFrequency)
		go func() {
			for range t.C {
				err := serverClients.DDClient.PublishSummary(context.Background(), service.Summary())
				if err != nil {
					logger.Errorf("error publishing device summary: %s", err)
				}
			}
		}()
	}
}

// using viper.Getint is unsafe because if the env
// var is unset, viper will return 0 resulting in
// all rows being deleted from the database
func parseRetentionRowsConfig(rows string) int {
	if rows == "" {
		return defaultMaxRetentionRows
	}
	rowsInt, err := strconv.Atoi(rows)
	if err != nil {
		logger.Fatalf("failed to parse retention rows from string: %s", err)
	}
	return rowsInt
}

func runDataRetention(serverClients clients.ServerClients, serverConfig config.ServerConfig) {
	logger.Info("Running data retention")
	rowsAboveMax, err := serverClients.Postgres.GetRowsAboveMax(serverConfig.S3Config.MaxRetentionRows)
	if err != nil {
		logger.Errorf("error getting rows above max: %s", err)
		return
	}
	numberRowsAboveMax := len(rowsAboveMax)

	if numberRowsAboveMax == 0 {
		logger.Info("Row count is less than or equal to max, no action required")
		return
	}

	ctx := context.Background()

	err = serverClients.AWS.DownloadOrCreateBackupFile(ctx, serverClients.AWS.RetentionTmpWritePath, serverClients.AWS.RetentionBackupFileKey)
	if err != nil {
		logger.Errorf("downloading or creating backup file: %s", err)
		return
	}

	append := true
	err = serverClients.AWS.WriteBackupFile(rowsAboveMax, append, serverClients.AWS.RetentionTmpWritePath)
	if err != nil {
		logger.Errorf("writing local tmp backup file: %s", err)
		return
	}

	err = serverClients.AWS.UploadBackupFile(ctx, serverClients.AWS.RetentionTmpWritePath, serverClients.AWS.RetentionBackupFileKey)
	if err != nil {
		logger.Errorf("uploading backup file to S3: %s", err)
		return
	}

	rowsAffected, err := serverClients.Postgres.DeleteRows(rowsAboveMax)
	if err != nil {
		logger.Errorf("deleting rows from postgres: %s", err)
		return
	}

	numRowsAffected := int(rowsAffected)
	if numRowsAffected != numberRowsAboveMax {
		logger.Warnf("Number of rows deleted '%d' did not match expected number '%d'. This could indicate a data loss situation", rowsAffected, numberRowsAboveMax)
		return
	}

	logger.Infof("Number of rows deleted and stored in S3 backup: %d", numRowsAffected)
}

func runFullBackup(serverClients clients.ServerClients) {
	logger.Info("Running full database backup")
	rows, err := serverClients.Postgres.GetAllRows()
	if err != nil {
		logger.Errorf("getting all rows from db: %s", err)
		return
	}

	append := false
	err = serverClients.AWS.WriteBackupFile(rows, append, serverClients.AWS.FullBackupTmpWritePath)
	if err != nil {
		logger.Errorf("writing backup tmp file: %s", err)
		return
	}

	ctx := context.Background()
	err = serverClients.AWS.UploadBackupFile(ctx, serverClients.AWS.FullBackupTmpWritePath, serverClients.AWS.FullBackupFileKey)
	if err != nil {
		logger.Errorf("uploading backup file to S3: %s", err)
		return
	}

	logger.Infof("Full backup to S3 success, number of rows backed up: %d", len(rows))
}

func createClients(serverConfig config.ServerConfig) (clients.ServerClients, error) {
	var redisClient redis.Client
	var err error

	if serverConfig.RedisTLSURL != "" {
		redisClient, err = redis.NewRedisClient(serverConfig.RedisTLSURL, true)
	} else {
		redisClient, err = redis.NewRedisClient(serverConfig.RedisURL, false)
	}

	if err != nil {
		return clients.ServerClients{}, fmt.Errorf("creating redis client: %s", err)
	}

	postgresClient, err := postgres.NewPostgresClient(serverConfig.PostgresURL)
	if err != nil {
		return clients.ServerClients{}, fmt.Errorf("creating postgres client: %s", err)
	}

	insecureSkipVerify := false
	mqttClient := mqtt.NewMQTTClient(serverConfig.MqttBrokerURL, serverConfig.MqttUser, serverConfig.MqttPassword, insecureSkipVerify, func(client mqttC.Client) {
		logger.Info("Connected to mqtt broker")
	}, func(client mqttC.Client, err error) {
		logger.Warnf("Connection to mqtt broker lost: %v", err)
	}, func(mqttC.Client, *mqttC.ClientOptions) {
		logger.Info("Server client is reconnecting")
	})

	awsClient, err := aws.NewClient(serverConfig)
	if err != nil {
		return clients.ServerClients{}, fmt.Errorf("error creating AWS client: %s", err)
	}
	ddClient := datadog.NewDatadogClient(serverConfig.DatadogConfig.APIKey, serverConfig.DatadogConfig.APPKey, serverConfig.AppName)

	return clients.ServerClients{
		Redis:    redisClient,
		Postgres: postgresClient,
		Mqtt:     mqttClient,
		AWS:      awsClient,
		DDClient: ddClient,
	}, nil
}
