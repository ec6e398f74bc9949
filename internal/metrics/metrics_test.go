package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	c.IncFramesSent()
	c.IncFramesReceived()
	c.IncDecodeErrors()
	c.SetEndpointsActive(3)
	c.SetSessionsActive(2)
	c.Register(prometheus.NewRegistry()) // must not panic on a nil receiver
}

func TestCollectorsIncrementAndRegister(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	c.Register(reg)

	c.IncFramesSent()
	c.IncFramesSent()
	c.IncFramesReceived()
	c.SetEndpointsActive(4)
	c.SetSessionsActive(1)
	c.IncDecodeErrors()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 5 {
		t.Fatalf("gathered %d metric families, want 5", len(mfs))
	}

	var sent *float64
	for _, mf := range mfs {
		if mf.GetName() == "amqp10_frames_sent_total" {
			v := mf.Metric[0].GetCounter().GetValue()
			sent = &v
		}
	}
	if sent == nil || *sent != 2 {
		t.Fatalf("frames_sent_total = %v, want 2", sent)
	}
}

func TestRegisterIsNoOpWithoutRegisterer(t *testing.T) {
	c := New()
	c.Register(nil) // must not panic
}
