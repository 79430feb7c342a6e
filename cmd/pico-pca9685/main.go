//go:build rp2040

// Command pico-pca9685 drives a PCA9685 from a Raspberry Pi Pico and serves
// the console on UART0.
package main

import (
	"context"
	"errors"
	"machine"
	"time"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/services/shell"
	"pca9685-go/transport"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")

	hw := machine.I2C0
	if err := hw.Configure(machine.I2CConfig{
		SCL:       machine.GP5,
		SDA:       machine.GP4,
		Frequency: 400 * machine.KHz,
	}); err != nil {
		println("[main] i2c0:", err.Error())
		return
	}
	owner := transport.NewOwner("i2c0", hw)
	if err := owner.Start(); err != nil {
		println("[main] i2c0 owner:", err.Error())
		return
	}

	dev, err := pca9685.New(owner.Handle(transport.DefaultTimeout), pca9685.DefaultConfig())
	if err != nil {
		println("[main] pca9685:", err.Error(), "status", dev.Status().String())
		return
	}
	println("[main] pca9685 ready, prescale", dev.Prescale())

	// Boot pulse on channel 0 so a servo or LED shows the board is alive.
	if err := dev.SetPWM(0, 150, 600); err != nil {
		println("[main] set ch0:", err.Error())
	}
	time.Sleep(2 * time.Second)
	if err := dev.SetPWM(0, 0, 150); err != nil {
		println("[main] set ch0:", err.Error())
	}

	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{BaudRate: 115200, TX: machine.GP0, RX: machine.GP1})
	serve(context.Background(), u, shell.New(dev, u))
}

// serve feeds UART input to the shell one line at a time.
func serve(ctx context.Context, u *uartx.UART, sh *shell.Shell) {
	var (
		buf  [64]byte
		line []byte
	)
	u.Write([]byte("pca9685> "))
	for {
		n, err := u.RecvSomeContext(ctx, buf[:])
		if err != nil {
			println("[uart] recv:", err.Error())
			return
		}
		for _, c := range buf[:n] {
			switch c {
			case '\r', '\n':
				if err := sh.Exec(string(line)); err != nil && !errors.Is(err, shell.ErrExit) {
					u.Write([]byte("error: " + err.Error() + "\r\n"))
				}
				line = line[:0]
				u.Write([]byte("pca9685> "))
			case 0x7F, 0x08:
				if len(line) > 0 {
					line = line[:len(line)-1]
				}
			default:
				if len(line) < 128 {
					line = append(line, c)
				}
			}
		}
	}
}
