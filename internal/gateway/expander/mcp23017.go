package expander

import "github.com/racerxdl/go-mcp23017"

type mcp23017Device struct {
	device *mcp23017.Device
}

// OpenMcp23017 opens a real MCP23017 on the given I2C bus.
func OpenMcp23017(bus, deviceNumber uint8) (PinDevice, error) {
	device, err := mcp23017.Open(bus, deviceNumber)
	if err != nil {
		return nil, err
	}
	return &mcp23017Device{device: device}, nil
}

func (m *mcp23017Device) Reset() error {
	return m.device.Reset()
}

func (m *mcp23017Device) SetOutput(pin uint8) error {
	return m.device.PinMode(pin, mcp23017.OUTPUT)
}

func (m *mcp23017Device) Write(pin uint8, high bool) error {
	if high {
		return m.device.DigitalWrite(pin, mcp23017.HIGH)
	}
	return m.device.DigitalWrite(pin, mcp23017.LOW)
}

func (m *mcp23017Device) Read(pin uint8) (bool, error) {
	level, err := m.device.DigitalRead(pin)
	if err != nil {
		return false, err
	}
	return level == mcp23017.HIGH, nil
}

func (m *mcp23017Device) Close() error {
	return m.device.Close()
}
