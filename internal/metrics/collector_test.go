package gipmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	gipmetrics "github.com/gip-host/gogip/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gipmetrics.NewCollector(reg)

	if c.Clients == nil {
		t.Error("Clients is nil")
	}
	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.PacketsReceived == nil {
		t.Error("PacketsReceived is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}
	if c.ChunkOverflows == nil {
		t.Error("ChunkOverflows is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestRegisterUnregisterClient(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gipmetrics.NewCollector(reg)

	c.RegisterClient(0)

	val := gaugeValue(t, c.Clients, "0")
	if val != 1 {
		t.Errorf("after RegisterClient: clients gauge = %v, want 1", val)
	}

	c.RegisterClient(0)

	val = gaugeValue(t, c.Clients, "0")
	if val != 2 {
		t.Errorf("after second RegisterClient: clients gauge = %v, want 2", val)
	}

	c.UnregisterClient(0)

	val = gaugeValue(t, c.Clients, "0")
	if val != 1 {
		t.Errorf("after UnregisterClient: clients gauge = %v, want 1", val)
	}
}

func TestPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gipmetrics.NewCollector(reg)

	c.IncPacketsSent(0, 1)
	c.IncPacketsSent(0, 1)
	c.IncPacketsSent(0, 1)

	val := counterValue(t, c.PacketsSent, "0", "1")
	if val != 3 {
		t.Errorf("PacketsSent = %v, want 3", val)
	}

	c.IncPacketsReceived(0, 1)
	c.IncPacketsReceived(0, 1)

	val = counterValue(t, c.PacketsReceived, "0", "1")
	if val != 2 {
		t.Errorf("PacketsReceived = %v, want 2", val)
	}

	c.IncPacketsDropped(0, 1)

	val = counterValue(t, c.PacketsDropped, "0", "1")
	if val != 1 {
		t.Errorf("PacketsDropped = %v, want 1", val)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gipmetrics.NewCollector(reg)

	c.RecordStateTransition(0, 1, "Connected", "Announced")

	val := counterValue(t, c.StateTransitions, "0", "1", "Connected", "Announced")
	if val != 1 {
		t.Errorf("StateTransitions(Connected->Announced) = %v, want 1", val)
	}

	c.RecordStateTransition(0, 1, "Announced", "Identified")

	val = counterValue(t, c.StateTransitions, "0", "1", "Announced", "Identified")
	if val != 1 {
		t.Errorf("StateTransitions(Announced->Identified) = %v, want 1", val)
	}

	c.RecordStateTransition(0, 1, "Connected", "Announced")

	val = counterValue(t, c.StateTransitions, "0", "1", "Connected", "Announced")
	if val != 2 {
		t.Errorf("StateTransitions(Connected->Announced) = %v, want 2", val)
	}
}

func TestAuthFailuresAndChunkOverflows(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := gipmetrics.NewCollector(reg)

	c.IncAuthFailures(0, 1)
	c.IncAuthFailures(0, 1)

	val := counterValue(t, c.AuthFailures, "0", "1")
	if val != 2 {
		t.Errorf("AuthFailures = %v, want 2", val)
	}

	c.IncChunkOverflows(0, 1)

	val = counterValue(t, c.ChunkOverflows, "0", "1")
	if val != 1 {
		t.Errorf("ChunkOverflows = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
