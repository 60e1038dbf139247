package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
radio:
  transmit:
    pa_boost: true
    pa_max_power: 7
    pa_output_power: 15
    frequency: 915000000
    error_coding_rate: "4:5"
    bandwidth: "125000"
    spreading_factor: 7
    crc: true
    preamble_length: 8
  receive:
    frequency: 915000000
    error_coding_rate: "4:5"
    bandwidth: "125000"
    spreading_factor: 7
    crc: true
    preamble_length: 8
comm_transceiver:
  transmit_buffer_length_packets: 8
  receive_buffer_length_packets: 8
  transmit_timeout_milliseconds: 3000
  poll_interval_milliseconds: 10
  maximum_receive_time_milliseconds: 500
comm_protocol:
  passive_mode: false
  transmit_all_data: true
  ignore_errors: false
  stream_acknowledgement_interval_packet_count: 4
  stream_acknowledgement_receive_timeout_millis: 1500
  stream_acknowledgement_guard_interval_millis: 50
  stream_acknowledgement_max_rerequest_count: 2
  stream_end_of_stream_acknowledgement_max_rerequest_count: 2
  stream_inactivity_timeout_millis: 10000
  transmit_stream_count: 4
  receive_stream_count: 4
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	return path
}

func TestLoadParsesAndValidates(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Radio.Transmit.PABoost)
	require.EqualValues(t, 915000000, cfg.Radio.Transmit.Frequency)
	require.Equal(t, 8, cfg.Transceiver.TransmitBufferLengthPackets)
	require.Equal(t, 4, cfg.Protocol.TransmitStreamCount)

	radio, err := cfg.RadioConfig()
	require.NoError(t, err)
	require.Equal(t, uint8(7), radio.Transmit.SpreadingFactor)

	tc := cfg.TransceiverConfig()
	require.Equal(t, 8, tc.TransmitBufferLength)

	pc := cfg.ProtocolConfig()
	require.Equal(t, 4, pc.TransmitStreamCount)
	require.Equal(t, 4, pc.StreamAckIntervalPacketCount)
}

func TestLoadRejectsUnsupportedBandwidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ert.yaml")
	bad := strings.Replace(sampleYAML, `bandwidth: "125000"`, `bandwidth: "999999"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
