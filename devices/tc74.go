package devices

import (
	"context"
	"fmt"
)

const tc74DefaultAddress = 0x4D
const tc74TempRegister = 0x00
const tc74ConfigRegister = 0x01

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
type TC74 struct {
	conn     Conn
	lastTemp float32
}

func NewTC74(conn Conn) *TC74 {
	return &TC74{conn: conn}
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (sensor *TC74) GetConfig(ctx context.Context) (byte, error) {
	resp := make([]byte, 1)
	err := sensor.conn.WriteRead(ctx, []byte{tc74ConfigRegister}, resp, shtc3IOTimeout)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read config register: %w", err)
	}
	return resp[0], nil
}

// GetTemperature reads the current temperature in Celsius.
// It checks the DATA_RDY bit in the config register before reading temperature.
func (sensor *TC74) GetTemperature(ctx context.Context) (float32, error) {
	config, err := sensor.GetConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not get config: %w", err)
	}
	if (config & 0x40) == 0 {
		// conversion not ready yet, report the previous sample
		return sensor.lastTemp, nil
	}
	resp := make([]byte, 1)
	err = sensor.conn.WriteRead(ctx, []byte{tc74TempRegister}, resp, shtc3IOTimeout)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read temp register: %w", err)
	}
	// Convert 2's complement 8-bit value to int8
	sensor.lastTemp = float32(int8(resp[0]))
	return sensor.lastTemp, nil
}
