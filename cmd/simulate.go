package cmd

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/mqtt"
	mqttC "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	simulateInterval time.Duration
	simulateRouters  int
	simulateCount    int
)

// simulateCmd publishes synthetic gateway telemetry for local development.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish synthetic door, button, radar and tube trailer telemetry",
	Long:  `Publishes randomly generated gateway reports to the configured broker so the dashboard can be developed without hardware`,
	Run: func(cmd *cobra.Command, args []string) {
		l := newLogger(viper.GetString("LOG_FORMAT"))
		logger = l.Sugar().Named("device_monitor_simulator")
		defer logger.Sync()

		brokerURL := viper.GetString("MQTT_BROKER_URL")
		if brokerURL == "" {
			logger.Fatal("MQTT_BROKER_URL is required")
		}

		client := mqtt.NewMQTTClient(brokerURL, viper.GetString("MQTT_USER"), viper.GetString("MQTT_PASSWORD"), false, func(client mqttC.Client) {
			logger.Info("Connected to mqtt broker")
		}, func(client mqttC.Client, err error) {
			logger.Warnf("Connection to mqtt broker lost: %v", err)
		}, func(mqttC.Client, *mqttC.ClientOptions) {
			logger.Info("Simulator is reconnecting")
		})
		if err := client.Connect(); err != nil {
			logger.Fatalf("connecting to mqtt broker: %s", err)
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		sim := newSimulator(rand.New(rand.NewSource(time.Now().UnixNano())), simulateRouters)
		ticker := time.NewTicker(simulateInterval)
		defer ticker.Stop()

		for sent := 0; simulateCount <= 0 || sent < simulateCount; sent++ {
			select {
			case <-c:
				logger.Info("Cleaning up")
				client.Cleanup()
				return
			case <-ticker.C:
			}

			topic, payload := sim.next(time.Now())
			if err := client.Publish(topic, payload); err != nil {
				logger.Errorf("publishing to %s: %s", topic, err)
				continue
			}
			logger.Debugw("published", "topic", topic)
		}
		client.Cleanup()
	},
}

func init() {
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 500*time.Millisecond, "delay between published messages")
	simulateCmd.Flags().IntVar(&simulateRouters, "routers", 3, "number of simulated gateways")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 0, "number of messages to publish, 0 publishes until interrupted")
	rootCmd.AddCommand(simulateCmd)
}

type simulator struct {
	rnd     *rand.Rand
	routers int
}

func newSimulator(rnd *rand.Rand, routers int) *simulator {
	if routers <= 0 {
		routers = 1
	}
	return &simulator{
		rnd:     rnd,
		routers: routers,
	}
}

// next returns one topic and payload, choosing the device shape at random.
// About one in twenty messages is a gateway ALIVE report.
func (s *simulator) next(now time.Time) (string, []byte) {
	router := fmt.Sprintf("gw%02d", s.rnd.Intn(s.routers)+1)
	n := s.rnd.Intn(8) + 1

	var topic string
	var payload map[string]interface{}
	switch pick := s.rnd.Intn(20); {
	case pick == 0:
		topic = fmt.Sprintf("%s/ALIVE", router)
		payload = map[string]interface{}{"date": now.Format(time.RFC3339)}
	case pick < 6:
		address := fmt.Sprintf("DOOR-%02d", n)
		topic = fmt.Sprintf("%s/%s", router, address)
		payload = s.elicit(address, "3", now)
	case pick < 11:
		address := fmt.Sprintf("BTN-%02d", n)
		topic = fmt.Sprintf("%s/%s", router, address)
		payload = s.elicit(address, "2", now)
	case pick < 17:
		device := fmt.Sprintf("sensor%d", n)
		if n%3 == 0 {
			device = fmt.Sprintf("room%d", n)
		}
		topic = fmt.Sprintf("%s/%s", router, device)
		payload = s.radar(device)
	default:
		topic = fmt.Sprintf("tt%02d/node%d", s.rnd.Intn(s.routers)+1, n)
		payload = s.trailer(now)
	}

	b, _ := json.Marshal(payload)
	return topic, b
}

func (s *simulator) elicit(address, elementType string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"date":        now.Format("2006-01-02 15:04:05"),
		"rssi":        fmt.Sprintf("-%d", 40+s.rnd.Intn(50)),
		"address":     address,
		"battery":     fmt.Sprintf("%d", 20+s.rnd.Intn(81)),
		"event":       fmt.Sprintf("%d", s.rnd.Intn(2)),
		"elementType": elementType,
	}
}

func (s *simulator) radar(uid string) map[string]interface{} {
	return map[string]interface{}{
		"heart":        55 + s.rnd.Intn(50),
		"breath":       10 + s.rnd.Intn(15),
		"presence":     s.rnd.Intn(2),
		"detect_count": s.rnd.Intn(4),
		"range":        fmt.Sprintf("%.1f", s.rnd.Float64()*5),
		"fall":         0,
		"radar_rssi":   -40 - s.rnd.Intn(40),
		"device_ip":    fmt.Sprintf("192.168.0.%d", 10+s.rnd.Intn(200)),
		"mac_address":  fmt.Sprintf("AA:BB:CC:00:00:%02X", s.rnd.Intn(256)),
		"uid":          uid,
	}
}

func (s *simulator) trailer(now time.Time) map[string]interface{} {
	payload := map[string]interface{}{
		"timetbl": now.Format("2006-01-02 15:04:05"),
	}
	for i := 1; i <= 5; i++ {
		payload[fmt.Sprintf("sensor_node%d", i)] = map[string]interface{}{
			"pressure":    fmt.Sprintf("%.1f", 150+s.rnd.Float64()*100),
			"temperature": fmt.Sprintf("%.1f", 10+s.rnd.Float64()*20),
		}
	}
	return payload
}
