package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/0x9900/FT8Commander/spotdb"
	"github.com/0x9900/FT8Commander/wsjtx"
)

// MQTTPublisher mirrors controller activity to an MQTT broker: one message
// per new sighting, reply and logged QSO, plus a periodic metrics snapshot.
type MQTTPublisher struct {
	client     mqtt.Client
	config     *MQTTConfig
	instanceID string
}

// MetricPayload is the metrics snapshot message.
type MetricPayload struct {
	Instance  string             `json:"instance"`
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a random client ID for the MQTT connection.
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "ft8ctrl_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files.
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(config *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Println("MQTT: Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client:     client,
		config:     config,
		instanceID: uuid.NewString(),
	}, nil
}

// StartPublisher runs the periodic metrics snapshot until the context ends.
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Duration(mp.config.PublishInterval) * time.Second)
		defer ticker.Stop()

		log.Printf("MQTT: Metrics publisher started with %d second interval", mp.config.PublishInterval)
		mp.publishMetrics()

		for {
			select {
			case <-ctx.Done():
				log.Println("MQTT: Metrics publisher stopped")
				return
			case <-ticker.C:
				mp.publishMetrics()
			}
		}
	}()
}

// PublishSighting announces one stored CQ sighting.
func (mp *MQTTPublisher) PublishSighting(s *spotdb.Sighting) {
	mp.publishEvent("sighting", map[string]interface{}{
		"call":        s.Call,
		"extra":       s.Extra,
		"grid":        s.Grid,
		"snr":         s.SNR,
		"country":     s.Country,
		"continent":   s.Continent,
		"cq_zone":     s.CQZone,
		"itu_zone":    s.ITUZone,
		"distance_km": s.Distance,
		"azimuth_deg": s.Azimuth,
		"frequency":   s.Frequency,
		"band":        s.Band,
	})
}

// PublishReply announces the station picked for calling.
func (mp *MQTTPublisher) PublishReply(call string, band, snr int, coef float64, selectorName string) {
	mp.publishEvent("reply", map[string]interface{}{
		"call":     call,
		"band":     band,
		"snr":      snr,
		"coef":     coef,
		"selector": selectorName,
	})
}

// PublishQSO announces a contact logged by the console.
func (mp *MQTTPublisher) PublishQSO(qso *wsjtx.QSOLogged) {
	mp.publishEvent("qso", map[string]interface{}{
		"call":            qso.DXCall.S,
		"grid":            qso.DXGrid.S,
		"frequency":       qso.DialFrequency,
		"mode":            qso.Mode.S,
		"report_sent":     qso.ReportSent.S,
		"report_received": qso.ReportReceived.S,
		"time_on":         qso.DateTimeOn.Time.Unix(),
		"time_off":        qso.DateTimeOff.Time.Unix(),
	})
}

// publishEvent sends one controller event without blocking the caller.
func (mp *MQTTPublisher) publishEvent(kind string, payload map[string]interface{}) {
	if mp == nil || !mp.client.IsConnected() {
		return
	}

	payload["instance"] = mp.instanceID
	payload["timestamp"] = time.Now().Unix()

	topic := fmt.Sprintf("%s/%s", mp.config.TopicPrefix, kind)
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal payload for topic %s: %v", topic, err)
		return
	}

	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT ERROR: Failed to publish to topic %s: %v", topic, token.Error())
		}
	}()
}

// publishMetrics snapshots the Prometheus registry into one flat message.
func (mp *MQTTPublisher) publishMetrics() {
	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT ERROR: Failed to gather Prometheus metrics: %v", err)
		return
	}

	metrics := make(map[string]float64)
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}
			key := mf.GetName()
			for _, label := range m.GetLabel() {
				key += "_" + label.GetName() + "_" + label.GetValue()
			}
			metrics[key] = value
		}
	}
	if len(metrics) == 0 {
		return
	}

	payload := MetricPayload{
		Instance:  mp.instanceID,
		Timestamp: time.Now().Unix(),
		Metrics:   metrics,
	}

	topic := fmt.Sprintf("%s/metrics", mp.config.TopicPrefix)
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal payload for topic %s: %v", topic, err)
		return
	}

	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT ERROR: Failed to publish to topic %s: %v", topic, token.Error())
	}
}

// extractMetricValue pulls the numeric value out of a Prometheus metric.
func extractMetricValue(m *dto.Metric) (float64, bool) {
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue(), true
	}
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue(), true
	}
	if m.GetHistogram() != nil {
		return m.GetHistogram().GetSampleSum(), true
	}
	if m.GetSummary() != nil {
		return m.GetSummary().GetSampleSum(), true
	}
	return 0, false
}

// Disconnect gracefully disconnects from the MQTT broker.
func (mp *MQTTPublisher) Disconnect() {
	if mp.client != nil && mp.client.IsConnected() {
		mp.client.Disconnect(250)
		log.Println("MQTT: Disconnected from broker")
	}
}
