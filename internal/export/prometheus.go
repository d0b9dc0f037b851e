package export

import (
	"github.com/prometheus/client_golang/prometheus"
)

type deviceMetricsCollector struct {
	hub     *Hub
	metrics []deviceMetric
}

type deviceMetric struct {
	desc    *prometheus.Desc
	extract func(snap DeviceSnapshot) (float64, bool)
}

func newDeviceMetricsCollector(hub *Hub) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("drmtop", "gpu", name),
			help,
			[]string{"bus_id"},
			nil,
		)
	}
	gauge := func(field func(DeviceSnapshot) *uint64) func(DeviceSnapshot) (float64, bool) {
		return func(snap DeviceSnapshot) (float64, bool) {
			if v := field(snap); v != nil {
				return float64(*v), true
			}
			return 0, false
		}
	}

	return &deviceMetricsCollector{
		hub: hub,
		metrics: []deviceMetric{
			{
				desc:    desc("util_percent", "Aggregate device utilization percentage."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.GPUUtilPct }),
			},
			{
				desc:    desc("clock_mhz", "Current engine clock in MHz."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.ClockMHz }),
			},
			{
				desc:    desc("temperature_celsius", "Current device temperature in Celsius."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.TempC }),
			},
			{
				desc:    desc("fan_rpm", "Current fan speed in RPM."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.FanRPM }),
			},
			{
				desc:    desc("power_draw_milliwatts", "Current power draw in milliwatts."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.PowerDrawMW }),
			},
			{
				desc:    desc("mem_total_bytes", "Device memory capacity in bytes."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.MemTotalBytes }),
			},
			{
				desc:    desc("mem_used_bytes", "Device memory in use in bytes."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.MemUsedBytes }),
			},
			{
				desc:    desc("mem_util_percent", "Device memory utilization percentage."),
				extract: gauge(func(s DeviceSnapshot) *uint64 { return s.MemUtilPct }),
			},
			{
				desc: desc("process_count", "Processes using the device this cycle."),
				extract: func(snap DeviceSnapshot) (float64, bool) {
					return float64(len(snap.Processes)), true
				},
			},
		},
	}
}

func (c *deviceMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *deviceMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.hub.Latest() {
		for _, metric := range c.metrics {
			value, ok := metric.extract(snap)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, snap.BusID)
		}
	}
}
