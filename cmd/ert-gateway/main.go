// Command ert-gateway is the stationary-gateway binary: it opens one
// SX127x radio in a receive-lean configuration, decodes inbound streams
// through the comm protocol, and republishes every delivered payload and
// a periodic status document to an MQTT broker. spec.md §2 names
// "republishes the data" as this component's job without specifying the
// transport; the teacher's own cmd/mqttradio already republishes decoded
// radio packets over MQTT, so this binary follows the same shape.
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/loraert/ert/config"
	"github.com/loraert/ert/eventbus"
	"github.com/loraert/ert/hal"
	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/status"
	"github.com/loraert/ert/telemetry"
	"github.com/loraert/ert/transceiver"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to ert.yaml (default: search standard locations)")
	statusInterval := pflag.Duration("status-interval", 10*time.Second, "how often to republish the status document")
	debug := pflag.Bool("debug", false, "enable debug logging")
	help := pflag.BoolP("help", "h", false, "print usage help")
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal("loading configuration", "err", err)
	}

	radio, err := openRadio(*cfg)
	if err != nil {
		log.Fatal("opening radio", "err", err)
	}

	xcvr := transceiver.New(radio, cfg.TransceiverConfig())
	xcvr.Start()
	defer xcvr.Stop()

	bus := eventbus.New()
	proto := protocol.New(xcvr, cfg.ProtocolConfig(), bus)
	proto.Start()
	defer proto.Stop()

	tracker := status.NewTracker()
	agg := status.NewAggregator(radio.Status, xcvr.Stats, proto.StreamInfos, tracker)

	sink, err := newMQTTSink(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.ClientID, cfg.MQTT.User, cfg.MQTT.Password, cfg.MQTT.Topic)
	if err != nil {
		log.Fatal("connecting to mqtt broker", "err", err)
	}
	defer sink.close()

	proto.SubscribeAll(func(ev eventbus.Event) {
		pkt, ok := ev.Data.(protocol.PacketEvent)
		if !ok {
			return
		}
		sink.publish("rx", pkt)
		tracker.RecordReceived(decodedReading(pkt))
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	statusTicker := time.NewTicker(*statusInterval)
	defer statusTicker.Stop()

	log.Info("ert-gateway ready", "mqtt_prefix", cfg.MQTT.Topic)

	for {
		select {
		case <-sig:
			log.Info("shutting down")
			if err := radio.Sleep(); err != nil {
				log.Warn("radio sleep", "err", err)
			}
			return

		case <-statusTicker.C:
			doc := agg.Snapshot()
			sink.publish("status", doc)
			if *debug {
				docJSON, _ := json.Marshal(doc)
				log.Debug("status snapshot", "doc", string(docJSON))
			}
		}
	}
}

// decodedReading adapts a delivered packet into the minimal telemetry
// value the status Tracker records, without attempting to interpret the
// payload: cmd/ert-node JSON-encodes a telemetry.Reading, but the gateway
// treats every peer's payload as opaque bytes it only forwards.
func decodedReading(pkt protocol.PacketEvent) telemetry.Reading {
	return telemetry.Reading{
		ID:        pkt.Sequence,
		Type:      telemetry.EntryTypeSensorReading,
		Timestamp: time.Now(),
		Payload:   pkt.Payload,
	}
}

func openRadio(cfg config.Config) (*rfm9x.Radio, error) {
	if err := hal.Init(); err != nil {
		return nil, err
	}
	spiDev, err := hal.OpenSPI(cfg.Hardware.SPIBusPath, cfg.Hardware.SPIClockHz)
	if err != nil {
		return nil, err
	}
	dio0, err := hal.OpenPin(cfg.Hardware.DIO0Pin)
	if err != nil {
		return nil, err
	}
	dio5, err := hal.OpenPin(cfg.Hardware.DIO5Pin)
	if err != nil {
		return nil, err
	}
	radioCfg, err := cfg.RadioConfig()
	if err != nil {
		return nil, err
	}
	return rfm9x.Open(spiDev, dio0, dio5, radioCfg, rfm9x.Options{Logger: chLogger{}})
}

type chLogger struct{}

func (chLogger) Debug(msg string) { log.Debug(msg) }
func (chLogger) Info(msg string)  { log.Info(msg) }
func (chLogger) Warn(msg string)  { log.Warn(msg) }
func (chLogger) Error(msg string) { log.Error(msg) }
