package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveQueueDepthSetsFraction(t *testing.T) {
	ObserveQueueDepth("ingress", 5, 10)

	m := &dto.Metric{}
	if err := QueueDepth.WithLabelValues("ingress").Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 0.5 {
		t.Fatalf("expected depth fraction 0.5, got %v", got)
	}
}

func TestRegisterAddsCollectorsToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered collectors to produce metric families")
	}
}
