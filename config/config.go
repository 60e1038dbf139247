// Package config loads the YAML configuration file into the typed
// sections each subsystem consumes, running defaulting and validation
// once at load time the way the teacher's deviceid loader reads its YAML
// data file up front rather than re-parsing on every use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loraert/ert/linkerr"
	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/transceiver"
)

// RadioDirectionConfig mirrors one of the original driver's two
// per-direction radio profiles.
type RadioDirectionConfig struct {
	PABoost               bool    `yaml:"pa_boost"`
	PAMaxPower            uint8   `yaml:"pa_max_power"`
	PAOutputPower         uint8   `yaml:"pa_output_power"`
	Frequency             float64 `yaml:"frequency"`
	FrequencyHopEnabled   bool    `yaml:"frequency_hop_enabled"`
	FrequencyHopPeriod    uint8   `yaml:"frequency_hop_period"`
	ImplicitHeaderMode    bool    `yaml:"implicit_header_mode"`
	ErrorCodingRate       string  `yaml:"error_coding_rate"`
	Bandwidth             string  `yaml:"bandwidth"`
	SpreadingFactor       uint8   `yaml:"spreading_factor"`
	CRC                   bool    `yaml:"crc"`
	LowDataRateOptimize   bool    `yaml:"low_data_rate_optimize"`
	PreambleLength        uint16  `yaml:"preamble_length"`
	IQInverted            bool    `yaml:"iq_inverted"`
	ReceiveTimeoutSymbols uint16  `yaml:"receive_timeout_symbols"`
	ExpectedPayloadLength uint8   `yaml:"expected_payload_length"`
}

// RadioConfig is the `radio` section.
type RadioConfig struct {
	Transmit RadioDirectionConfig `yaml:"transmit"`
	Receive  RadioDirectionConfig `yaml:"receive"`
}

// TransceiverConfig is the `comm_transceiver` section.
type TransceiverConfig struct {
	TransmitBufferLengthPackets    int `yaml:"transmit_buffer_length_packets"`
	ReceiveBufferLengthPackets     int `yaml:"receive_buffer_length_packets"`
	TransmitTimeoutMilliseconds    int `yaml:"transmit_timeout_milliseconds"`
	PollIntervalMilliseconds       int `yaml:"poll_interval_milliseconds"`
	MaximumReceiveTimeMilliseconds int `yaml:"maximum_receive_time_milliseconds"`
}

// ProtocolConfig is the `comm_protocol` section.
type ProtocolConfig struct {
	PassiveMode     bool `yaml:"passive_mode"`
	TransmitAllData bool `yaml:"transmit_all_data"`
	IgnoreErrors    bool `yaml:"ignore_errors"`

	ReceiveBufferLengthPackets int `yaml:"receive_buffer_length_packets"`

	StreamInactivityTimeoutMillis                     int `yaml:"stream_inactivity_timeout_millis"`
	StreamAcknowledgementIntervalPacketCount          int `yaml:"stream_acknowledgement_interval_packet_count"`
	StreamAcknowledgementReceiveTimeoutMillis         int `yaml:"stream_acknowledgement_receive_timeout_millis"`
	StreamAcknowledgementGuardIntervalMillis          int `yaml:"stream_acknowledgement_guard_interval_millis"`
	StreamAcknowledgementMaxRerequestCount            int `yaml:"stream_acknowledgement_max_rerequest_count"`
	StreamEndOfStreamAcknowledgementMaxRerequestCount int `yaml:"stream_end_of_stream_acknowledgement_max_rerequest_count"`

	TransmitStreamCount int `yaml:"transmit_stream_count"`
	ReceiveStreamCount  int `yaml:"receive_stream_count"`
}

// HardwareConfig names the physical SPI bus and GPIO lines a cmd/ert-node
// or cmd/ert-gateway binary opens the radio on. Nothing under hal or
// rfm9x depends on this section; it exists only to get a *rfm9x.Radio
// bound to real hardware from a single config file.
type HardwareConfig struct {
	SPIBusPath string `yaml:"spi_bus_path"`
	SPIClockHz int64  `yaml:"spi_clock_hz"`
	DIO0Pin    string `yaml:"dio0_pin"`
	DIO5Pin    string `yaml:"dio5_pin"`
}

// MQTTConfig is cmd/ert-gateway's republish sink configuration, grounded
// on the teacher's own `cmd/mqttradio` MqttConfig section.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic_prefix"`
}

// Config is the full configuration document.
type Config struct {
	Radio       RadioConfig       `yaml:"radio"`
	Transceiver TransceiverConfig `yaml:"comm_transceiver"`
	Protocol    ProtocolConfig    `yaml:"comm_protocol"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// searchLocations is tried in order when path is empty, the way the
// teacher's deviceid loader walks a list of install locations instead of
// requiring one fixed path.
var searchLocations = []string{
	"ert.yaml",
	"/etc/ert/ert.yaml",
	"/usr/local/etc/ert/ert.yaml",
}

func defaults() Config {
	return Config{
		Hardware: HardwareConfig{
			SPIBusPath: "/dev/spidev0.0",
			SPIClockHz: 1000000,
			DIO0Pin:    "GPIO22",
			DIO5Pin:    "GPIO23",
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "ert-gateway",
			Topic:    "ert",
		},
		Transceiver: TransceiverConfig{
			TransmitBufferLengthPackets:    16,
			ReceiveBufferLengthPackets:     16,
			TransmitTimeoutMilliseconds:    4000,
			PollIntervalMilliseconds:       5,
			MaximumReceiveTimeMilliseconds: 200,
		},
		Protocol: ProtocolConfig{
			ReceiveBufferLengthPackets:                        16,
			StreamInactivityTimeoutMillis:                     30000,
			StreamAcknowledgementIntervalPacketCount:          8,
			StreamAcknowledgementReceiveTimeoutMillis:         2000,
			StreamAcknowledgementGuardIntervalMillis:          100,
			StreamAcknowledgementMaxRerequestCount:            3,
			StreamEndOfStreamAcknowledgementMaxRerequestCount: 3,
			TransmitStreamCount:                               4,
			ReceiveStreamCount:                                4,
		},
	}
}

// Load reads and validates the configuration file at path. An empty path
// tries searchLocations in order.
func Load(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	var lastErr error
	for _, loc := range searchLocations {
		data, err := os.ReadFile(loc)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("config: no configuration file found in %v: %w", searchLocations, lastErr)
}

// Validate runs cross-field checks spec.md §6 requires beyond plain type
// decoding: the radio profiles' own invariants, plus the stream-count and
// transceiver buffer-length fields being positive. Timing fields are not
// checked.
func (c Config) Validate() error {
	radio, err := c.RadioConfig()
	if err != nil {
		return err
	}
	if err := radio.Validate(); err != nil {
		return err
	}

	if c.Protocol.TransmitStreamCount <= 0 || c.Protocol.ReceiveStreamCount <= 0 {
		return fmt.Errorf("config: transmit_stream_count and receive_stream_count must be positive: %w", linkerr.ErrInvalidArg)
	}
	if c.Transceiver.TransmitBufferLengthPackets <= 0 || c.Transceiver.ReceiveBufferLengthPackets <= 0 {
		return fmt.Errorf("config: transceiver buffer lengths must be positive: %w", linkerr.ErrInvalidArg)
	}
	return nil
}

func toDirectionConfig(d RadioDirectionConfig) (rfm9x.DirectionConfig, error) {
	bw, err := rfm9x.BandwidthFromString(d.Bandwidth)
	if err != nil {
		return rfm9x.DirectionConfig{}, err
	}
	cr, err := rfm9x.CodingRateFromString(d.ErrorCodingRate)
	if err != nil {
		return rfm9x.DirectionConfig{}, err
	}
	return rfm9x.DirectionConfig{
		PABoost:               d.PABoost,
		PAMaxPower:            d.PAMaxPower,
		PAOutputPower:         d.PAOutputPower,
		Frequency:             d.Frequency,
		FrequencyHopEnabled:   d.FrequencyHopEnabled,
		FrequencyHopPeriod:    d.FrequencyHopPeriod,
		ImplicitHeaderMode:    d.ImplicitHeaderMode,
		ErrorCodingRate:       cr,
		Bandwidth:             bw,
		SpreadingFactor:       d.SpreadingFactor,
		CRC:                   d.CRC,
		LowDataRateOptimize:   d.LowDataRateOptimize,
		PreambleLength:        d.PreambleLength,
		IQInverted:            d.IQInverted,
		ReceiveTimeoutSymbols: d.ReceiveTimeoutSymbols,
		ExpectedPayloadLength: d.ExpectedPayloadLength,
	}, nil
}

// RadioConfig translates the YAML radio section into rfm9x.Config.
func (c Config) RadioConfig() (rfm9x.Config, error) {
	tx, err := toDirectionConfig(c.Radio.Transmit)
	if err != nil {
		return rfm9x.Config{}, fmt.Errorf("config: radio.transmit: %w", err)
	}
	rx, err := toDirectionConfig(c.Radio.Receive)
	if err != nil {
		return rfm9x.Config{}, fmt.Errorf("config: radio.receive: %w", err)
	}
	return rfm9x.Config{Transmit: tx, Receive: rx}, nil
}

// TransceiverConfig translates the YAML transceiver section into
// transceiver.Config.
func (c Config) TransceiverConfig() transceiver.Config {
	t := c.Transceiver
	return transceiver.Config{
		TransmitBufferLength: t.TransmitBufferLengthPackets,
		ReceiveBufferLength:  t.ReceiveBufferLengthPackets,
		TransmitTimeout:      time.Duration(t.TransmitTimeoutMilliseconds) * time.Millisecond,
		PollInterval:         time.Duration(t.PollIntervalMilliseconds) * time.Millisecond,
		MaximumReceiveTime:   time.Duration(t.MaximumReceiveTimeMilliseconds) * time.Millisecond,
	}
}

// ProtocolConfig translates the YAML protocol section into protocol.Config.
func (c Config) ProtocolConfig() protocol.Config {
	p := c.Protocol
	return protocol.Config{
		PassiveMode:                           p.PassiveMode,
		TransmitAllData:                       p.TransmitAllData,
		IgnoreErrors:                          p.IgnoreErrors,
		TransmitStreamCount:                   p.TransmitStreamCount,
		ReceiveStreamCount:                    p.ReceiveStreamCount,
		StreamAckIntervalPacketCount:          p.StreamAcknowledgementIntervalPacketCount,
		StreamAckReceiveTimeout:               time.Duration(p.StreamAcknowledgementReceiveTimeoutMillis) * time.Millisecond,
		StreamAckGuardInterval:                time.Duration(p.StreamAcknowledgementGuardIntervalMillis) * time.Millisecond,
		StreamAckMaxRerequestCount:            p.StreamAcknowledgementMaxRerequestCount,
		StreamEndOfStreamAckMaxRerequestCount: p.StreamEndOfStreamAcknowledgementMaxRerequestCount,
		StreamInactivityTimeout:               time.Duration(p.StreamInactivityTimeoutMillis) * time.Millisecond,
		ReceivePollInterval:                   time.Duration(p.PollIntervalForReceive()) * time.Millisecond,
		TimerInterval:                         50 * time.Millisecond,
	}
}

// PollIntervalForReceive derives the protocol layer's own receive-poll
// cadence from the ack guard interval: fine enough to notice an inbound
// frame well inside one guard window, never zero.
func (p ProtocolConfig) PollIntervalForReceive() int {
	if p.StreamAcknowledgementGuardIntervalMillis > 0 {
		return p.StreamAcknowledgementGuardIntervalMillis
	}
	return 20
}
