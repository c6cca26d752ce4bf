package source

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	regConversion = 0x00
	regConfig     = 0x01

	DefaultAddress = 0x48
)

var dataRateBits = map[int]uint16{
	128: 0b100,
	250: 0b101,
	475: 0b110,
	860: 0b111,
}

// single-ended AINx vs GND
var muxBits = map[int]uint16{
	0: 0b100,
	1: 0b101,
	2: 0b110,
	3: 0b111,
}

// BuildConfig assembles the ADS1115 config register. Comparator mode,
// polarity and latch are left at zero.
func BuildConfig(mux, pga, mode, dr, compQue uint16) uint16 {
	osBit := uint16(1) << 15
	return osBit |
		(mux&0x7)<<12 |
		(pga&0x7)<<9 |
		(mode&0x1)<<8 |
		(dr&0x7)<<5 |
		compQue&0x3
}

// DataRateBits maps a requested rate to the DR field. Unsupported rates use
// 250 SPS.
func DataRateBits(rate int) (uint16, bool) {
	if bits, ok := dataRateBits[rate]; ok {
		return bits, true
	}
	return dataRateBits[250], false
}

// ADS1115 reads a single-ended channel in continuous conversion mode.
type ADS1115 struct {
	dev    *i2c.Dev
	closer func() error
	token  ConfigToken
	ready  bool
}

// NewADS1115 wraps an already opened bus.
func NewADS1115(bus i2c.Bus, address uint16) *ADS1115 {
	return &ADS1115{dev: &i2c.Dev{Bus: bus, Addr: address}}
}

// OpenADS1115 initialises the host drivers and opens the named I2C bus
// ("" picks the first one available).
func OpenADS1115(busName string, address uint16) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}
	a := NewADS1115(bus, address)
	a.closer = bus.Close
	return a, nil
}

func (a *ADS1115) Configure(channel, gainIndex, rate int) (ConfigToken, error) {
	mux, ok := muxBits[channel]
	if !ok {
		return 0, fmt.Errorf("ads1115: invalid channel %d", channel)
	}
	if _, ok := fullScale[gainIndex]; !ok {
		return 0, fmt.Errorf("ads1115: invalid gain index %d", gainIndex)
	}
	dr, _ := DataRateBits(rate)
	cfg := BuildConfig(mux, uint16(gainIndex), 0, dr, 0b11)
	if _, err := a.dev.Write([]byte{regConfig, byte(cfg >> 8), byte(cfg)}); err != nil {
		return 0, fmt.Errorf("ads1115: write config: %w", err)
	}
	a.token = ConfigToken(cfg)
	a.ready = true
	return a.token, nil
}

func (a *ADS1115) Read() (int16, error) {
	if !a.ready {
		return 0, ErrNotConfigured
	}
	buf := make([]byte, 2)
	if err := a.dev.Tx([]byte{regConversion}, buf); err != nil {
		return 0, fmt.Errorf("ads1115: read conversion: %w", err)
	}
	return int16(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

func (a *ADS1115) Close() error {
	a.ready = false
	if a.closer != nil {
		return a.closer()
	}
	return nil
}
