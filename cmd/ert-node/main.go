// Command ert-node is the moving-node binary: it opens one SX127x radio in
// a transmit-lean configuration, opens a single ack-bearing transmit
// stream, and periodically writes a telemetry.Reading to it. GPS, sensor,
// and image capture are out of scope here (spec.md §1); the payload is a
// synthetic placeholder so the comm stack above it has something to move.
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
	port := pflag.Uint16P("port", "p", 100, "protocol port to transmit telemetry on")
	acks := pflag.Bool("acks", true, "enable acknowledgements on the telemetry stream")
	interval := pflag.Duration("interval", 5*time.Second, "telemetry transmit interval")
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

	radio, err := openRadio(*cfg, *debug)
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

	stream, err := proto.OpenTransmitStream(*port, *acks)
	if err != nil {
		log.Fatal("opening transmit stream", "port", *port, "err", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Info("ert-node ready", "port", *port, "acks", *acks, "interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var seq uint32
	for {
		select {
		case <-sig:
			log.Info("shutting down, closing telemetry stream")
			if err := stream.Close(); err != nil {
				log.Warn("stream close", "err", err)
			}
			if err := radio.Sleep(); err != nil {
				log.Warn("radio sleep", "err", err)
			}
			return

		case <-ticker.C:
			reading := telemetry.Reading{
				ID:        seq,
				Type:      telemetry.EntryTypeSensorReading,
				Timestamp: time.Now(),
				Payload:   syntheticPayload(seq),
			}
			seq++

			data, err := json.Marshal(reading)
			if err != nil {
				log.Warn("marshaling reading", "err", err)
				continue
			}
			if err := stream.Write(data); err != nil {
				log.Warn("writing telemetry", "err", err)
				tracker.RecordTransmissionFailure()
				continue
			}
			tracker.RecordTransmitted(reading)

			if *debug {
				doc := agg.Snapshot()
				docJSON, _ := json.Marshal(doc)
				log.Debug("status snapshot", "doc", string(docJSON))
			}
		}
	}
}

// syntheticPayload stands in for the sensor/GPS capture spec.md §1 scopes
// out: a small deterministic byte sequence so the link carries something
// of non-trivial size.
func syntheticPayload(seq uint32) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(seq >> (uint(i) % 4 * 8))
	}
	return b
}

func openRadio(cfg config.Config, debug bool) (*rfm9x.Radio, error) {
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

// chLogger adapts hal.Logger onto the application-tier charmbracelet
// logger, so the driver's own terse debug/warn lines show up leveled and
// structured the same way the rest of ert-node's output does.
type chLogger struct{}

func (chLogger) Debug(msg string) { log.Debug(msg) }
func (chLogger) Info(msg string)  { log.Info(msg) }
func (chLogger) Warn(msg string)  { log.Warn(msg) }
func (chLogger) Error(msg string) { log.Error(msg) }
