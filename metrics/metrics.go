// Package metrics exposes a prometheus.Collector over the radio, link, and
// protocol counters, pulling a fresh snapshot on every scrape rather than
// keeping its own shadow copies, the way the teacher's sockstats
// TCPInfoCollector re-reads live connections on each Collect call.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/transceiver"
)

type gauge struct {
	desc  *prometheus.Desc
	value func() float64
}

type streamGauge struct {
	desc  *prometheus.Desc
	value func(protocol.StreamInfo) float64
}

// Collector implements prometheus.Collector over a radio driver, a
// transceiver, and the live set of protocol streams.
type Collector struct {
	radioStatus      func() rfm9x.Status
	transceiverStats func() transceiver.Stats
	streamInfos      func() []protocol.StreamInfo

	radioGauges       []gauge
	transceiverGauges []gauge
	streamGauges      []streamGauge
}

// NewCollector builds a Collector. Any of the three sources may be nil, in
// which case that group of metrics is simply never collected.
func NewCollector(radioStatus func() rfm9x.Status, transceiverStats func() transceiver.Stats, streamInfos func() []protocol.StreamInfo, constLabels prometheus.Labels) *Collector {
	c := &Collector{radioStatus: radioStatus, transceiverStats: transceiverStats, streamInfos: streamInfos}
	c.addRadioGauges(constLabels)
	c.addTransceiverGauges(constLabels)
	c.addStreamGauges(constLabels)
	return c
}

func desc(name, help string, variableLabels []string, constLabels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc("ert_"+name, help, variableLabels, constLabels)
}

func (c *Collector) addRadioGauges(constLabels prometheus.Labels) {
	c.radioGauges = []gauge{
		{desc("radio_mode", "Current radio driver mode.", nil, constLabels), func() float64 { return float64(c.radioStatus().Mode) }},
		{desc("radio_last_packet_rssi_dbm", "RSSI of the last received packet in dBm.", nil, constLabels), func() float64 { return c.radioStatus().LastPacketRSSI }},
		{desc("radio_last_packet_snr_db", "SNR of the last received packet in dB.", nil, constLabels), func() float64 { return c.radioStatus().LastPacketSNR }},
		{desc("radio_frequency_error_hz", "Estimated frequency error of the last received packet in Hz.", nil, constLabels), func() float64 { return c.radioStatus().FrequencyError }},
		{desc("radio_transmitted_packets_total", "Packets transmitted by the radio driver.", nil, constLabels), func() float64 { return float64(c.radioStatus().TransmittedPacketCount) }},
		{desc("radio_received_packets_total", "Packets received by the radio driver.", nil, constLabels), func() float64 { return float64(c.radioStatus().ReceivedPacketCount) }},
		{desc("radio_invalid_received_packets_total", "Received packets dropped for a chip-level CRC failure.", nil, constLabels), func() float64 { return float64(c.radioStatus().InvalidReceivedPacketCount) }},
		{desc("radio_detected_packets_total", "Channel-activity detections.", nil, constLabels), func() float64 { return float64(c.radioStatus().DetectedPacketCount) }},
		{desc("radio_mode_change_timeouts_total", "Mode transitions that did not complete before their deadline.", nil, constLabels), func() float64 { return float64(c.radioStatus().ModeChangeTimeoutCount) }},
	}
}

func (c *Collector) addTransceiverGauges(constLabels prometheus.Labels) {
	c.transceiverGauges = []gauge{
		{desc("transceiver_transmitted_total", "Frames successfully transmitted.", nil, constLabels), func() float64 { return float64(c.transceiverStats().Transmitted) }},
		{desc("transceiver_transmit_timeouts_total", "Transmit attempts that timed out.", nil, constLabels), func() float64 { return float64(c.transceiverStats().TransmitTimeouts) }},
		{desc("transceiver_received_total", "Frames delivered to the receive queue.", nil, constLabels), func() float64 { return float64(c.transceiverStats().Received) }},
		{desc("transceiver_receive_dropped_total", "Received frames dropped for a full receive queue.", nil, constLabels), func() float64 { return float64(c.transceiverStats().ReceiveDropped) }},
		{desc("transceiver_queued_for_transmit", "Frames currently queued waiting to transmit.", nil, constLabels), func() float64 { return float64(c.transceiverStats().QueuedForTransmit) }},
		{desc("transceiver_queued_for_receive", "Frames currently queued waiting to be read.", nil, constLabels), func() float64 { return float64(c.transceiverStats().QueuedForReceive) }},
	}
}

func (c *Collector) addStreamGauges(constLabels prometheus.Labels) {
	labels := []string{"stream_type", "stream_id", "port"}
	c.streamGauges = []streamGauge{
		{desc("stream_transferred_packets_total", "Packets transferred on the stream.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.Counters.TransferredPacketCount) }},
		{desc("stream_transferred_bytes_total", "Bytes transferred on the stream, including headers.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.Counters.TransferredByteCount) }},
		{desc("stream_duplicate_packets_total", "Duplicate packets observed on the stream.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.Counters.DuplicateTransferredPacketCount) }},
		{desc("stream_retransmits_total", "Packets retransmitted on the stream.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.Counters.RetransmitCount) }},
		{desc("stream_ack_rerequests_total", "Ack requests re-sent after a timeout.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.Counters.AckRerequestCount) }},
		{desc("stream_current_sequence_number", "Next sequence number the stream will use or expect.", labels, constLabels), func(s protocol.StreamInfo) float64 { return float64(s.CurrentSequenceNumber) }},
		{desc("stream_failed", "1 if the stream has failed, 0 otherwise.", labels, constLabels), func(s protocol.StreamInfo) float64 {
			if s.State.Failed {
				return 1
			}
			return 0
		}},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	if c.radioStatus != nil {
		for _, g := range c.radioGauges {
			descs <- g.desc
		}
	}
	if c.transceiverStats != nil {
		for _, g := range c.transceiverGauges {
			descs <- g.desc
		}
	}
	if c.streamInfos != nil {
		for _, g := range c.streamGauges {
			descs <- g.desc
		}
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	if c.radioStatus != nil {
		for _, g := range c.radioGauges {
			metrics <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value())
		}
	}
	if c.transceiverStats != nil {
		for _, g := range c.transceiverGauges {
			metrics <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value())
		}
	}
	if c.streamInfos != nil {
		for _, s := range c.streamInfos() {
			labelValues := []string{s.Type.String(), strconv.Itoa(int(s.StreamID)), strconv.Itoa(int(s.Port))}
			for _, g := range c.streamGauges {
				metrics <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(s), labelValues...)
			}
		}
	}
}
