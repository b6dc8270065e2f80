// Package metrics exposes the controller's Prometheus gauges and
// counters, served over the same gorilla/mux router the provisioning
// portal uses for its captive form — the ambient observability layer
// this repository's design carries regardless of which features are
// in or out of scope.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TempC = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_temperature_celsius",
		Help: "Last sampled ambient temperature.",
	})
	HumPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_humidity_percent",
		Help: "Last sampled relative humidity.",
	})
	SoilPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_soil_moisture_percent",
		Help: "Last computed soil moisture percentage.",
	})
	TankLevelPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_tank_level_percent",
		Help: "Last computed water tank level percentage.",
	})

	PumpOn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_pump_on",
		Help: "1 if the pump relay is currently energized.",
	})
	FanOn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_fan_on",
		Help: "1 if the fan relay is currently energized.",
	})
	HeaterOn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_heater_on",
		Help: "1 if the heater relay is currently energized.",
	})

	SensorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_sensor_errors_total",
		Help: "Transient sensor read failures, by sensor name.",
	}, []string{"sensor"})

	MQTTReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_mqtt_reconnects_total",
		Help: "MQTT reconnect attempts made since process start.",
	})

	OTAFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_ota_failures_total",
		Help: "Firmware download or write failures.",
	})

	SpoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_spool_depth_records",
		Help: "Telemetry records currently held in the RAM batch.",
	})
)

func boolGauge(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

// SetActuators mirrors the live actuator state into the relay gauges.
func SetActuators(pump, fan, heater bool) {
	PumpOn.Set(boolGauge(pump))
	FanOn.Set(boolGauge(fan))
	HeaterOn.Set(boolGauge(heater))
}
