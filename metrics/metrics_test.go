package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/transceiver"
)

func TestCollectorEmitsRadioAndStreamMetrics(t *testing.T) {
	c := NewCollector(
		func() rfm9x.Status { return rfm9x.Status{Mode: rfm9x.ModeReceiveContinuous, ReceivedPacketCount: 3} },
		func() transceiver.Stats { return transceiver.Stats{Transmitted: 2} },
		func() []protocol.StreamInfo {
			return []protocol.StreamInfo{{Type: protocol.StreamTransmit, StreamID: 1, Port: 9}}
		},
		nil,
	)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawRadio, sawStream bool
	for _, f := range families {
		if f.GetName() == "ert_radio_received_packets_total" {
			sawRadio = true
			require.EqualValues(t, 3, f.Metric[0].GetGauge().GetValue())
		}
		if f.GetName() == "ert_stream_current_sequence_number" {
			sawStream = true
			require.Equal(t, "1", labelValue(f.Metric[0], "stream_id"))
		}
	}
	require.True(t, sawRadio)
	require.True(t, sawStream)
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
