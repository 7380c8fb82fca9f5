package lepton

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// TemperatureMode selects the unit decoded temperatures are reported in.
type TemperatureMode int

const (
	Celsius TemperatureMode = iota
	Fahrenheit
	Kelvin

	temperatureModeCount
)

// Valid reports whether m is a known temperature unit.
func (m TemperatureMode) Valid() bool {
	return m >= 0 && m < temperatureModeCount
}

func (m TemperatureMode) String() string {
	switch m {
	case Celsius:
		return "°C"
	case Fahrenheit:
		return "°F"
	case Kelvin:
		return "K"
	default:
		return fmt.Sprintf("TemperatureMode(%d)", int(m))
	}
}

// Convert returns k expressed in unit m.
func (m TemperatureMode) Convert(k Kelvin100) float32 {
	switch m {
	case Celsius:
		return k.Celsius()
	case Fahrenheit:
		return k.Fahrenheit()
	case Kelvin:
		return k.Kelvin()
	default:
		return 0
	}
}

// Kelvin100 is a temperature in hundredths of a kelvin, as the camera reports it.
type Kelvin100 uint16

func (k Kelvin100) Kelvin() float32 {
	return float32(k/100) + float32(k%100)*0.01
}

func (k Kelvin100) Celsius() float32 {
	return k.Kelvin() - 273.15
}

// Fahrenheit is rounded to hundredths.
func (k Kelvin100) Fahrenheit() float32 {
	f := float64(k.Kelvin())*9/5 - 459.67
	return float32(math.Round(f*100) / 100)
}

// Temperature converts k to a periph temperature.
func (k Kelvin100) Temperature() physic.Temperature {
	return physic.Temperature(k) * 10 * physic.MilliKelvin
}

// ToKelvin100 converts a temperature in unit m back to the camera's representation.
func (m TemperatureMode) ToKelvin100(t float32) Kelvin100 {
	var kelvin float64
	switch m {
	case Celsius:
		kelvin = float64(t) + 273.15
	case Fahrenheit:
		kelvin = (float64(t) + 459.67) * 5 / 9
	case Kelvin:
		kelvin = float64(t)
	}
	return Kelvin100(math.Round(kelvin * 100))
}
