package shutter

// OperState is the motion confirmed by the drive relays.
type OperState int

const (
	OperUnknown OperState = iota
	OperIdle
	OperOpening
	OperClosing
	OperError
)

func (s OperState) String() string {
	switch s {
	case OperIdle:
		return "idle"
	case OperOpening:
		return "opening"
	case OperClosing:
		return "closing"
	case OperError:
		return "error"
	}
	return "unknown"
}

// OperStateFor derives the confirmed motion from the two drive relay readings.
func OperStateFor(up, down bool) OperState {
	switch {
	case !up && !down:
		return OperIdle
	case !up && down:
		return OperClosing
	case up && !down:
		return OperOpening
	}
	return OperError
}

// ConfigState is the commanded intent, including the cooldown windows that
// follow a stop. It changes only through command handling and cooldown expiry.
//
//	from            event                                to
//	Idle            open (oper Idle)                     Opening
//	Idle            close (oper Idle)                    Closing
//	OpeningCooldown open                                 Opening
//	ClosingCooldown close                                Closing
//	any             stop (oper Opening)                  OpeningCooldown
//	any             stop (oper Closing)                  ClosingCooldown
//	Opening|Closing stop (oper Idle, desync)             GenericCooldown
//	*Cooldown       cooldown expired                     Idle
type ConfigState int

const (
	ConfigIdle ConfigState = iota
	ConfigOpening
	ConfigClosing
	ConfigOpeningCooldown
	ConfigClosingCooldown
	ConfigGenericCooldown
)

func (s ConfigState) String() string {
	switch s {
	case ConfigIdle:
		return "idle"
	case ConfigOpening:
		return "opening"
	case ConfigClosing:
		return "closing"
	case ConfigOpeningCooldown:
		return "open_wait"
	case ConfigClosingCooldown:
		return "close_wait"
	case ConfigGenericCooldown:
		return "generic_wait"
	}
	return "unknown"
}

func (s ConfigState) Cooldown() bool {
	return s == ConfigOpeningCooldown || s == ConfigClosingCooldown || s == ConfigGenericCooldown
}
