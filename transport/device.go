package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/channel"
	"github.com/srivardhansajja/covert/gesture"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/keystore"
	"github.com/srivardhansajja/covert/pairing"
	proto "github.com/srivardhansajja/covert/protocol"
)

// Hardware is the set of peripherals a Device runs on.
type Hardware struct {
	Radio RadioDriver
	Flash hal.Flash
	RNG   hal.RNG
	Clock hal.Clock

	// LED1 is the heartbeat indicator; LED2 shows pairing and playback.
	LED1, LED2 hal.OutputPin

	GestureButton hal.InputPin
	Actuator      hal.PWM
}

type Config struct {
	ID proto.DeviceID

	// Distributor hands out its key during pairing. The master device
	// always distributes.
	Distributor bool

	// ResetKey discards the stored key at boot; ResetSequence discards
	// the stored sequence mark.
	ResetKey      bool
	ResetSequence bool

	// ButtonActiveLow is set when the gesture button reads low when
	// pressed.
	ButtonActiveLow bool

	// Logger returns the logger of a subsystem. Nil disables logging.
	Logger func(subsys string) slog.Logger
}

// Stats is a snapshot of the device counters.
type Stats struct {
	Frames       uint64
	Malformed    uint64
	PublicKeys   uint64
	KeyRotations uint64
	Application  uint64
	SendErrors   uint64

	Channel channel.Stats
	Pairing pairing.Stats
}

// Device is one tap-link unit: it owns the persistent state, routes radio
// frames and runs the main loop.
type Device struct {
	cfg Config
	hw  Hardware
	log slog.Logger

	store   *keystore.Store
	channel *channel.Channel
	pairing *pairing.Engine
	codec   *gesture.Codec

	// Captured gesture waiting for the main loop. Bit 0 of a capture is
	// always set, so zero means empty.
	pending atomic.Uint64

	led1 bool
	led2 atomic.Bool

	frames, malformed       atomic.Uint64
	publicKeys, rotations   atomic.Uint64
	application, sendErrors atomic.Uint64
}

// NewDevice wires the components of a unit. Nothing touches the radio
// until Init.
func NewDevice(cfg Config, hw Hardware) (*Device, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = func(string) slog.Logger { return slog.Disabled }
	}
	if cfg.ID.IsMaster() {
		cfg.Distributor = true
	}

	d := &Device{
		cfg: cfg,
		hw:  hw,
		log: logger("DEVC"),
	}

	store, err := keystore.New(hw.Flash, logger("KSTR"))
	if err != nil {
		return nil, err
	}
	d.store = store

	d.codec = gesture.New(gesture.Config{
		Button:    hw.GestureButton,
		ActiveLow: cfg.ButtonActiveLow,
		Actuator:  hw.Actuator,
		Indicator: hw.LED2,
		Sink:      d,
		Log:       logger("GEST"),
	})

	d.channel = channel.New(channel.Config{
		ID:     cfg.ID,
		Radio:  hw.Radio,
		Store:  store,
		RNG:    hw.RNG,
		Clock:  hw.Clock,
		Player: d.codec,
		Log:    logger("CHAN"),
	})

	d.pairing, err = pairing.New(pairing.Config{
		Distributor: cfg.Distributor,
		Radio:       hw.Radio,
		RNG:         hw.RNG,
		Clock:       hw.Clock,
		Store:       store,
		Channel:     d.channel,
		LED1:        hw.LED1,
		LED2:        hw.LED2,
		Log:         logger("PAIR"),
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Init brings up the radio and restores the key and sequence counter. A
// failure is fatal: both indicators are lit and the error returned.
func (d *Device) Init() error {
	d.hw.Radio.SetHandler(d)
	if err := d.hw.Radio.Init(); err != nil {
		d.fatal()
		return err
	}
	if err := d.initKey(); err != nil {
		d.fatal()
		return err
	}
	if err := d.channel.Start(d.cfg.ResetSequence); err != nil {
		d.fatal()
		return fmt.Errorf("sequence: %w", err)
	}

	role := "receiver"
	if d.cfg.Distributor {
		role = "distributor"
	}
	d.log.Infof("Device %d up (%s)", d.cfg.ID, role)
	return nil
}

// initKey loads the stored key, replacing a missing or invalid one with a
// random key.
func (d *Device) initKey() error {
	if d.cfg.ResetKey {
		if err := d.store.EraseKey(); err != nil {
			return err
		}
	}
	key, ok, err := d.store.Key()
	if err != nil {
		return err
	}
	if !ok {
		for !keystore.ValidKey(key) {
			var w [4]uint32
			if err := hal.ReadUint32s(d.hw.RNG, w[:]); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key = proto.KeyFromWords(w)
		}
		if err := d.store.SetKey(key); err != nil {
			return err
		}
		d.log.Infof("Generated new key")
	}
	return d.channel.SetKey(key)
}

func (d *Device) fatal() {
	setPin(d.hw.LED1, true)
	setPin(d.hw.LED2, true)
	d.log.Criticalf("Initialisation failed, device halted")
}

// HandleFrame classifies a received frame and routes it. It runs on the
// radio interrupt path and never transmits.
func (d *Device) HandleFrame(data []byte) {
	d.frames.Add(1)

	var err error
	switch f := proto.Classify(data).(type) {
	case proto.PublicKeyFrame:
		d.publicKeys.Add(1)
		err = d.pairing.HandlePublicKey(f.Key)
	case proto.KeyRotationFrame:
		d.rotations.Add(1)
		err = d.pairing.HandleKeyRotation(f.Ciphertext[:])
	case proto.ApplicationFrame:
		d.application.Add(1)
		err = d.channel.Receive(f.Ciphertext[:])
	case proto.Malformed:
		d.malformed.Add(1)
		err = f.Reason
	}
	if err != nil {
		d.log.Tracef("Dropped %d byte frame: %v", len(data), err)
	}
}

// OnRadioInterrupt is the radio DIO0 entry point.
func (d *Device) OnRadioInterrupt() { d.hw.Radio.OnInterrupt() }

// Tick is the gesture timer entry point.
func (d *Device) Tick() {
	switch d.pairing.State() {
	case pairing.Advertising, pairing.AwaitingPeerKey:
		on := !d.led2.Load()
		d.led2.Store(on)
		setPin(d.hw.LED2, on)
	}
	d.codec.Tick()
}

// PairButton starts pairing. Presses during a capture or a pairing are
// ignored.
func (d *Device) PairButton() {
	if d.busy() {
		return
	}
	d.pairing.Trigger()
}

// GestureButton starts a capture. Presses during a capture or a pairing
// are ignored.
func (d *Device) GestureButton() {
	if d.busy() {
		return
	}
	d.codec.StartCapture()
}

func (d *Device) busy() bool {
	return d.codec.Capturing() || d.pairing.State().Active()
}

// Submit queues a captured gesture for the main loop.
func (d *Device) Submit(pattern uint64) { d.pending.Store(pattern) }

// Poll runs one main loop iteration: pairing first, then a pending
// gesture, else the heartbeat.
func (d *Device) Poll() {
	if d.pairing.Poll() {
		return
	}
	if p := d.pending.Swap(0); p != 0 {
		if err := d.channel.EncryptAndSend(p, proto.SendRepeats); err != nil {
			d.sendErrors.Add(1)
			d.log.Debugf("Gesture not sent: %v", err)
		}
		return
	}
	d.led1 = !d.led1
	setPin(d.hw.LED1, d.led1)
	d.hw.Clock.Sleep(proto.HeartbeatInterval)
}

// Run polls until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.Poll()
	}
}

// ID returns the device identifier.
func (d *Device) ID() proto.DeviceID { return d.cfg.ID }

// State returns the pairing phase.
func (d *Device) State() pairing.State { return d.pairing.State() }

// Key returns the active key.
func (d *Device) Key() (proto.Key, bool) { return d.channel.Key() }

// Capturing reports whether a gesture capture is running.
func (d *Device) Capturing() bool { return d.codec.Capturing() }

// Playing reports whether a gesture is being played back.
func (d *Device) Playing() bool { return d.codec.Playing() }

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		Frames:       d.frames.Load(),
		Malformed:    d.malformed.Load(),
		PublicKeys:   d.publicKeys.Load(),
		KeyRotations: d.rotations.Load(),
		Application:  d.application.Load(),
		SendErrors:   d.sendErrors.Load(),
		Channel:      d.channel.Stats(),
		Pairing:      d.pairing.Stats(),
	}
}

func setPin(p hal.OutputPin, v bool) {
	if p != nil {
		p.Set(v)
	}
}
