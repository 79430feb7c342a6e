// Package pca9685 drives the NXP PCA9685 16-channel, 12-bit PWM controller
// over I²C.
package pca9685

const (
	// 7-bit I2C address with A5..A0 strapped low (100_0000b).
	AddressDefault = 0x40

	// Internal oscillator.
	OscillatorDefault = 25_000_000

	// Channels and counter geometry.
	NumChannels = 16
	MaxBatch    = 15     // largest run SetPWMs writes in one transaction
	Counts      = 4096   // ticks per PWM frame
	CountMask   = 0x0FFF // 12-bit counter field
	FullOn      = 0x1000 // bit 4 of LEDn_ON_H / LEDn_OFF_H

	// Prescaler floor from the datasheet.
	PrescaleMin = 3

	// --- Register sub-addresses ---
	RegMode1      = 0x00
	RegMode2      = 0x01
	RegSubAdr1    = 0x02
	RegSubAdr2    = 0x03
	RegSubAdr3    = 0x04
	RegAllCallAdr = 0x05
	RegLED0OnL    = 0x06 // LEDn_ON_L = 0x06 + 4n
	RegLED0OnH    = 0x07
	RegLED0OffL   = 0x08
	RegLED0OffH   = 0x09
	RegLEDLast    = 0x45 // LED15_OFF_H
	RegAllOnL     = 0xFA
	RegAllOnH     = 0xFB
	RegAllOffL    = 0xFC
	RegAllOffH    = 0xFD
	RegPrescale   = 0xFE
	RegTestMode   = 0xFF

	// Reserved block where reads skip the bus and return the last byte
	// received (70..249).
	regReservedLo = 0x46
	regReservedHi = 0xF9

	// Paired counter registers addressable through RegisterValue (6..68).
	regPairLo = RegLED0OnL
	regPairHi = 0x44
)

// Timing.
const (
	resetSettleUS = 1000 // oscillator settle after MODE1 := 0
	wakeSettleUS  = 500  // oscillator stabilisation after clearing SLEEP
)

// ledBase returns LEDn_ON_L. Channels >= 16 alias into the reserved block,
// the ALL_LED registers or wrap past 0xFF; the arithmetic is kept 8-bit.
func ledBase(ch uint8) byte { return byte(RegLED0OnL + 4*ch) }
