package httpctrl

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/ports"
	"github.com/Agrid-Dev/easycontrols/internal/transcode"
)

const namespace = "easycontrols"

// collector exports the latest snapshot on every scrape.
type collector struct {
	svc   ports.VentilationService
	stats func() modbusclient.Stats

	variable       *prometheus.Desc
	available      *prometheus.Desc
	snapshotTime   *prometheus.Desc
	partyActive    *prometheus.Desc
	partyRemaining *prometheus.Desc
	info           *prometheus.Desc
	transactions   *prometheus.Desc
	retries        *prometheus.Desc
	failures       *prometheus.Desc
	reconnects     *prometheus.Desc
}

func newCollector(svc ports.VentilationService, stats func() modbusclient.Stats) *collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &collector{
		svc:            svc,
		stats:          stats,
		variable:       desc("variable", "Numeric value of a device variable.", "name", "unit"),
		available:      desc("variable_available", "Whether the variable was read in the last refresh.", "name"),
		snapshotTime:   desc("snapshot_timestamp_seconds", "Time of the last refresh."),
		partyActive:    desc("party_active", "Whether a party override runs."),
		partyRemaining: desc("party_remaining_seconds", "Time left in the party override."),
		info:           desc("device_info", "Identity of the unit.", "model", "mac", "serial_number", "software_version"),
		transactions:   desc("modbus_transactions_total", "Modbus transactions attempted."),
		retries:        desc("modbus_retries_total", "Modbus transactions retried."),
		failures:       desc("modbus_failures_total", "Modbus transactions that used up their attempts."),
		reconnects:     desc("modbus_reconnects_total", "Modbus connections re-established."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.variable, c.available, c.snapshotTime, c.partyActive, c.partyRemaining,
		c.info, c.transactions, c.retries, c.failures, c.reconnects,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	info := c.svc.Info()
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		info.Model, info.MAC, info.SerialNumber, info.SoftwareVersion)

	ps := c.svc.PartyState()
	ch <- prometheus.MustNewConstMetric(c.partyActive, prometheus.GaugeValue, boolFloat(ps.Active))
	ch <- prometheus.MustNewConstMetric(c.partyRemaining, prometheus.GaugeValue, ps.Remaining.Seconds())

	if c.stats != nil {
		st := c.stats()
		ch <- prometheus.MustNewConstMetric(c.transactions, prometheus.CounterValue, float64(st.Transactions))
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(st.Retries))
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures))
		ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(st.Reconnects))
	}

	snap := c.svc.Snapshot()
	if snap == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.snapshotTime, prometheus.GaugeValue, float64(snap.TakenAt().UnixNano())/1e9)

	cat := c.svc.Catalog()
	for _, name := range snap.Names() {
		r := snap.Reading(name)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, boolFloat(r.Available()), name)
		if !r.Available() {
			continue
		}
		f, ok := numeric(r.Value)
		if !ok {
			continue
		}
		unit := derivedUnits[name]
		if d, err := cat.Lookup(name); err == nil {
			unit = d.Unit
		}
		ch <- prometheus.MustNewConstMetric(c.variable, prometheus.GaugeValue, f, name, unit)
	}
}

var derivedUnits = map[string]string{
	controls.AirflowRate:            "m³/h",
	controls.HeatRecoveryEfficiency: "%",
}

// numeric maps a value onto a gauge. Enumerations export their device
// number; text has no gauge.
func numeric(v transcode.Value) (float64, bool) {
	switch v.Type() {
	case transcode.TypeInt, transcode.TypeFloat:
		return v.Float()
	case transcode.TypeBool:
		b, _ := v.Bool()
		return boolFloat(b), true
	case transcode.TypeStage:
		s, _ := v.Stage()
		return float64(s), true
	case transcode.TypeMode:
		m, _ := v.Mode()
		return float64(m), true
	case transcode.TypeFlags:
		f, _ := v.Flags()
		return float64(f), true
	default:
		return 0, false
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
