package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/jkaflik/neuron2mqtt/internal/timer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// minCooldown is the shortest guard window after a stop.
	minCooldown = time.Second

	// overdrive is added to endpoint targets, in percent of full travel.
	overdrive = 10

	timerCommandTimeout = 5 * time.Second
)

type Config struct {
	Name   string
	Timing shutter.Timing
	// MinReverseDirTime extends the cooldown after a stop when it exceeds one second.
	MinReverseDirTime time.Duration
	// ReportInterval is how often an estimated position is published while moving. Zero disables it.
	ReportInterval time.Duration
}

// RelaysShutter estimates position and tilt of a cover driven by a relay pair,
// from the time the relays were confirmed energized.
//
// All entry points (commands, relay feedback, timers) run under one lock, so
// each runs to completion before the next starts.
type RelaysShutter struct {
	name           string
	relays         Pair
	timing         shutter.Timing
	cooldownTime   time.Duration
	reportInterval time.Duration
	clock          timer.Clock

	l             sync.Mutex
	operState     shutter.OperState
	configState   shutter.ConfigState
	position      shutter.Level
	tilt          shutter.Level
	movementStart time.Time

	autoStop *timer.Slot
	cooldown *timer.Slot
	report   *timer.Slot

	updateHandler shutter.ShutterUpdateHandler
}

var _ shutter.Shutter = (*RelaysShutter)(nil)

func NewRelaysShutter(cfg Config, relays Pair, clock timer.Clock) *RelaysShutter {
	cooldown := cfg.MinReverseDirTime
	if cooldown < minCooldown {
		cooldown = minCooldown
	}

	return &RelaysShutter{
		name:           cfg.Name,
		relays:         relays,
		timing:         cfg.Timing,
		cooldownTime:   cooldown,
		reportInterval: cfg.ReportInterval,
		clock:          clock,
		autoStop:       timer.NewSlot(clock),
		cooldown:       timer.NewSlot(clock),
		report:         timer.NewSlot(clock),
	}
}

// Subscribe feeds relay confirmations from b into the shutter.
func (s *RelaysShutter) Subscribe(b *bus.Bus) (unsubscribe func()) {
	up := b.Subscribe(s.relays.Up.Topic(), s.onRelayUpdate)
	down := b.Subscribe(s.relays.Down.Topic(), s.onRelayUpdate)
	logrus.Debugf("%s: listening on %s and %s", s.name, s.relays.Up.Topic(), s.relays.Down.Topic())

	return func() {
		up()
		down()

		s.l.Lock()
		defer s.l.Unlock()
		s.autoStop.Cancel()
		s.cooldown.Cancel()
		s.report.Cancel()
	}
}

func (s *RelaysShutter) Name() string {
	return s.name
}

func (s *RelaysShutter) OnUpdate(h shutter.ShutterUpdateHandler) {
	s.l.Lock()
	defer s.l.Unlock()

	s.updateHandler = h
}

// Status reports the current estimate without committing it.
func (s *RelaysShutter) Status() shutter.Status {
	s.l.Lock()
	defer s.l.Unlock()

	return s.status()
}

func (s *RelaysShutter) Open(ctx context.Context) error {
	logrus.Infof("%s: open", s.name)

	s.l.Lock()
	defer s.l.Unlock()

	return s.open(ctx)
}

func (s *RelaysShutter) Close(ctx context.Context) error {
	logrus.Infof("%s: close", s.name)

	s.l.Lock()
	defer s.l.Unlock()

	return s.close(ctx)
}

func (s *RelaysShutter) Stop(ctx context.Context) error {
	logrus.Infof("%s: stop", s.name)

	s.l.Lock()
	defer s.l.Unlock()

	return s.stop(ctx)
}

func (s *RelaysShutter) SetPosition(ctx context.Context, targetPosition int) error {
	logrus.Infof("%s: set position to %d", s.name, targetPosition)

	s.l.Lock()
	defer s.l.Unlock()

	return s.setPosition(ctx, targetPosition)
}

func (s *RelaysShutter) SetTilt(ctx context.Context, targetTilt int) error {
	logrus.Infof("%s: set tilt to %d", s.name, targetTilt)

	s.l.Lock()
	defer s.l.Unlock()

	return s.setTilt(ctx, targetTilt)
}

func (s *RelaysShutter) OpenTilt(ctx context.Context) error {
	return s.SetTilt(ctx, shutter.FullOpenPosition)
}

func (s *RelaysShutter) CloseTilt(ctx context.Context) error {
	return s.SetTilt(ctx, shutter.FullClosePosition)
}

// open starts opening. A closing cover is stopped instead, never reversed.
func (s *RelaysShutter) open(ctx context.Context) error {
	if s.operState == shutter.OperClosing {
		return s.stop(ctx)
	}

	if (s.operState == shutter.OperIdle && s.configState == shutter.ConfigIdle) || s.configState == shutter.ConfigOpeningCooldown {
		if err := s.relays.Open(ctx); err != nil {
			return errors.Wrapf(err, "%s: open", s.name)
		}
		s.cooldown.Cancel()
		s.configState = shutter.ConfigOpening
		logrus.Infof("%s: opening", s.name)
		return nil
	}

	logrus.Debugf("%s: open ignored in %s/%s", s.name, s.operState, s.configState)
	return nil
}

// close starts closing. An opening cover is stopped instead, never reversed.
func (s *RelaysShutter) close(ctx context.Context) error {
	if s.operState == shutter.OperOpening {
		return s.stop(ctx)
	}

	if (s.operState == shutter.OperIdle && s.configState == shutter.ConfigIdle) || s.configState == shutter.ConfigClosingCooldown {
		if err := s.relays.Close(ctx); err != nil {
			return errors.Wrapf(err, "%s: close", s.name)
		}
		s.cooldown.Cancel()
		s.configState = shutter.ConfigClosing
		logrus.Infof("%s: closing", s.name)
		return nil
	}

	logrus.Debugf("%s: close ignored in %s/%s", s.name, s.operState, s.configState)
	return nil
}

// stop releases both relays whatever the state, entering a cooldown window
// when the cover was moving or the commanded state lost track of it.
func (s *RelaysShutter) stop(ctx context.Context) error {
	if s.autoStop.Cancel() {
		logrus.Debugf("%s: canceled pending stop timer", s.name)
	}

	switch {
	case s.operState == shutter.OperOpening:
		s.enterCooldown(shutter.ConfigOpeningCooldown)
	case s.operState == shutter.OperClosing:
		s.enterCooldown(shutter.ConfigClosingCooldown)
	case s.operState == shutter.OperIdle && (s.configState == shutter.ConfigOpening || s.configState == shutter.ConfigClosing):
		logrus.Errorf("%s: relays idle but commanded %s", s.name, s.configState)
		s.enterCooldown(shutter.ConfigGenericCooldown)
	}

	if err := s.relays.Release(ctx); err != nil {
		return errors.Wrapf(err, "%s: stop", s.name)
	}
	return nil
}

func (s *RelaysShutter) enterCooldown(state shutter.ConfigState) {
	s.configState = state
	s.cooldown.Arm(s.cooldownTime, s.cooldownExpired)
}

func (s *RelaysShutter) cooldownExpired(seq uint64) {
	s.l.Lock()
	if !s.cooldown.Claim(seq) {
		s.l.Unlock()
		return
	}
	logrus.Debugf("%s: %s over", s.name, s.configState)
	s.configState = shutter.ConfigIdle
	status, h := s.status(), s.updateHandler
	s.l.Unlock()

	notify(h, status)
}

func (s *RelaysShutter) setPosition(ctx context.Context, target int) error {
	if target < shutter.FullClosePosition || target > shutter.FullOpenPosition {
		return errors.Wrapf(shutter.ErrOutOfRange, "%s: position %d", s.name, target)
	}

	if !s.position.Known() {
		switch target {
		case shutter.FullClosePosition:
			s.autoStop.Cancel()
			err := s.close(ctx)
			s.armAutoStop(s.timing.FullClose)
			return err
		case shutter.FullOpenPosition:
			s.autoStop.Cancel()
			err := s.open(ctx)
			s.armAutoStop(s.timing.FullOpen)
			return err
		}
		return errors.Wrapf(shutter.ErrNotCalibrated, "%s: position %d", s.name, target)
	}

	position, _ := s.estimate()
	current, _ := position.Value()

	// Endpoints are overdriven to reach the hard stop.
	effective := float64(target)
	switch target {
	case shutter.FullOpenPosition:
		effective += overdrive
	case shutter.FullClosePosition:
		effective -= overdrive
	}

	return s.move(ctx, current, effective, s.timing.FullOpen)
}

func (s *RelaysShutter) setTilt(ctx context.Context, target int) error {
	if target < shutter.FullClosePosition || target > shutter.FullOpenPosition {
		return errors.Wrapf(shutter.ErrOutOfRange, "%s: tilt %d", s.name, target)
	}

	if !s.tilt.Known() {
		switch target {
		case shutter.FullClosePosition:
			s.autoStop.Cancel()
			err := s.close(ctx)
			s.armAutoStop(s.timing.TiltChange)
			return err
		case shutter.FullOpenPosition:
			s.autoStop.Cancel()
			err := s.open(ctx)
			s.armAutoStop(s.timing.TiltChange)
			return err
		}
		return errors.Wrapf(shutter.ErrNotCalibrated, "%s: tilt %d", s.name, target)
	}

	_, tilt := s.estimate()
	current, _ := tilt.Value()

	return s.move(ctx, current, float64(target), s.timing.TiltChange)
}

// move runs the motor towards target for the share of full that separates it from current.
func (s *RelaysShutter) move(ctx context.Context, current, target float64, full time.Duration) error {
	var err error
	var d time.Duration
	switch {
	case target > current:
		d = time.Duration((target - current) * float64(full) / 100)
		s.autoStop.Cancel()
		err = s.open(ctx)
		s.armAutoStop(d)
	case target < current:
		d = time.Duration((current - target) * float64(full) / 100)
		s.autoStop.Cancel()
		err = s.close(ctx)
		s.armAutoStop(d)
	default:
		logrus.Debugf("%s: already at %.1f", s.name, current)
		return nil
	}

	logrus.Infof("%s: moving from %.1f to %.1f, stop in %s", s.name, current, target, d)
	return err
}

func (s *RelaysShutter) armAutoStop(d time.Duration) {
	s.autoStop.Arm(d, s.autoStopExpired)
}

func (s *RelaysShutter) autoStopExpired(seq uint64) {
	s.l.Lock()
	defer s.l.Unlock()

	if !s.autoStop.Claim(seq) {
		return
	}

	logrus.Infof("%s: stop timer expired", s.name)
	ctx, cancel := context.WithTimeout(context.Background(), timerCommandTimeout)
	defer cancel()
	if err := s.stop(ctx); err != nil {
		logrus.Error(err)
	}
}

// onRelayUpdate handles a confirmation from either drive relay.
func (s *RelaysShutter) onRelayUpdate() {
	s.l.Lock()

	oper := s.relays.OperState()
	if oper == shutter.OperError && s.operState != shutter.OperError {
		logrus.Errorf("%s: both drive relays are active", s.name)
	}
	if oper == s.operState {
		s.l.Unlock()
		return
	}

	now := s.clock.Now()
	if s.moving() {
		s.position, s.tilt = shutter.Interpolate(s.operState, s.movementStart, now, s.position, s.tilt, s.timing)
		s.movementStart = time.Time{}
	}

	logrus.Infof("%s: relays %s -> %s (position %s, tilt %s)", s.name, s.operState, oper, s.position, s.tilt)
	s.operState = oper

	if s.moving() {
		s.movementStart = now
		s.armReport()
	} else {
		s.report.Cancel()
	}

	status, h := s.status(), s.updateHandler
	s.l.Unlock()

	notify(h, status)
}

func (s *RelaysShutter) armReport() {
	if s.reportInterval <= 0 {
		return
	}
	s.report.Arm(s.reportInterval, s.reportExpired)
}

// reportExpired publishes the estimate while the cover keeps moving.
func (s *RelaysShutter) reportExpired(seq uint64) {
	s.l.Lock()
	if !s.report.Claim(seq) || !s.moving() {
		s.l.Unlock()
		return
	}
	s.armReport()
	status, h := s.status(), s.updateHandler
	s.l.Unlock()

	logrus.Tracef("%s: estimated position %s", s.name, status.Position)
	notify(h, status)
}

func (s *RelaysShutter) moving() bool {
	return s.operState == shutter.OperOpening || s.operState == shutter.OperClosing
}

func (s *RelaysShutter) estimate() (shutter.Level, shutter.Level) {
	return shutter.Interpolate(s.operState, s.movementStart, s.clock.Now(), s.position, s.tilt, s.timing)
}

func (s *RelaysShutter) status() shutter.Status {
	position, tilt := s.estimate()

	return shutter.Status{
		State:       shutter.StateFor(s.operState, position),
		Position:    position,
		Tilt:        tilt,
		OperState:   s.operState,
		ConfigState: s.configState,
	}
}

func notify(h shutter.ShutterUpdateHandler, status shutter.Status) {
	if h != nil {
		h(status)
	}
}
