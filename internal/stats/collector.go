package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports registry snapshots as gauges. Each scrape reads every
// Stats under its own lock, so counters of different connectors are not read
// atomically.
type Collector struct {
	registry *Registry
	throttle *Throttle

	connectorDesc *prometheus.Desc
	apiDesc       *prometheus.Desc
	throttleDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(namespace string, registry *Registry, throttle *Throttle) *Collector {
	return &Collector{
		registry: registry,
		throttle: throttle,
		connectorDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connector", "stat"),
			"SMPP client connector counters", []string{"cid", "key"}, nil),
		apiDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "api", "stat"),
			"Router and API counters", []string{"key"}, nil),
		throttleDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "throttled"),
			"1 while the throttle flag is raised", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectorDesc
	ch <- c.apiDesc
	ch <- c.throttleDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, cid := range c.registry.ConnectorIDs() {
		for key, v := range c.registry.Connector(cid).Counters() {
			ch <- prometheus.MustNewConstMetric(c.connectorDesc, prometheus.GaugeValue, float64(v), cid, key)
		}
	}
	for key, v := range c.registry.API().Counters() {
		ch <- prometheus.MustNewConstMetric(c.apiDesc, prometheus.GaugeValue, float64(v), key)
	}
	if c.throttle != nil {
		on := 0.0
		if c.throttle.IsOn() {
			on = 1
		}
		ch <- prometheus.MustNewConstMetric(c.throttleDesc, prometheus.GaugeValue, on)
	}
}

