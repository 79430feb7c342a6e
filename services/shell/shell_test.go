package shell

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/drivers/pca9685/pca9685sim"
	"pca9685-go/errcode"
)

func newShell(t *testing.T) (*Shell, *pca9685sim.Chip, *bytes.Buffer) {
	t.Helper()
	chip := pca9685sim.New(pca9685.AddressDefault)
	dev, err := pca9685.New(chip, pca9685.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return New(dev, &out), chip, &out
}

func run(t *testing.T, s *Shell, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if err := s.Exec(l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
}

func TestPWMCommands(t *testing.T) {
	s, chip, out := newShell(t)
	run(t, s,
		"pwm 0 150 600",
		"pwms 4 1:10 0x2:0x20",
		"duty 9 100",
		"period 10 0.5 50",
		"get 0",
	)
	if on, off := chip.Counts(0); on != 150 || off != 600 {
		t.Fatalf("ch0 %d/%d", on, off)
	}
	if on, off := chip.Counts(5); on != 2 || off != 32 {
		t.Fatalf("ch5 %d/%d", on, off)
	}
	if on, _ := chip.Counts(9); on != 0x1000 {
		t.Fatalf("ch9 on=%#x", on)
	}
	// ceil((100/50)/0.5) = 4 -> off = 40*50 = 2000
	if on, off := chip.Counts(10); on != 0 || off != 2000 {
		t.Fatalf("ch10 %d/%d", on, off)
	}
	if !strings.Contains(out.String(), "ch 0 on=150 off=600") {
		t.Fatalf("output %q", out.String())
	}

	run(t, s, "all 0 4096")
	for ch := 0; ch < 16; ch++ {
		if _, off := chip.Counts(ch); off != 0x1000 {
			t.Fatalf("ch%d off=%#x", ch, off)
		}
	}
}

func TestRegisterAndFreqCommands(t *testing.T) {
	s, chip, out := newShell(t)
	run(t, s, "wreg 0x01 0x14", "reg 1", "freq 1000", "freq", "reg 0xFE", "pwm 2 0x123 0", "reg 0x0E", "reg", "status")
	if chip.Reg(0x01) != 0x14 {
		t.Fatalf("MODE2=%#x", chip.Reg(0x01))
	}
	got := out.String()
	for _, want := range []string{
		"reg 0x01 = 0x14",
		"freq 60 -> 1000 Hz (prescale 5)",
		"freq 1000 Hz (prescale 5",
		"reg 0xFE = 0x05",
		"reg 0x0E = 0x123",
		"reg 0x00 = 0x21",
		"status ok",
		"realized 1017.25 Hz period 983284 ns",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestAddrStatusAndModes(t *testing.T) {
	s, chip, out := newShell(t)
	run(t, s, "addr", "addr 0x41", "status")
	got := out.String()
	if !strings.Contains(got, "addr 0x40 -> 0x41") || !strings.Contains(got, "status ok addr 0x41") {
		t.Fatalf("output %q", got)
	}
	// Nothing answers at 0x41.
	if err := s.Exec("sleep"); errcode.Of(err) != errcode.Nack {
		t.Fatalf("err=%v", err)
	}
	run(t, s, "addr 0x40", "sleep")
	if chip.Reg(0x00)&0x10 == 0 {
		t.Fatal("not asleep")
	}
	run(t, s, "wake", "reset")
	if chip.Reg(0x00) != 0 {
		t.Fatalf("MODE1=%#x", chip.Reg(0x00))
	}
}

func TestExecErrors(t *testing.T) {
	s, _, out := newShell(t)
	cases := []struct {
		line string
		want errcode.Code
	}{
		{"bogus", errcode.Unsupported},
		{"pwm 1 2", errcode.InvalidParams},
		{"pwm x 1 2", errcode.InvalidParams},
		{"pwm 1 2 70000", errcode.InvalidParams},
		{"pwms 0 1-2", errcode.InvalidParams},
		{"period 0 abc 5", errcode.InvalidParams},
		{"addr 0x80", errcode.InvalidParams},
		{`reg "0x01`, errcode.InvalidParams},
	}
	for _, c := range cases {
		if err := s.Exec(c.line); errcode.Of(err) != c.want {
			t.Errorf("%q: err=%v want %s", c.line, err, c.want)
		}
	}
	for _, l := range []string{"", "   ", "# comment"} {
		if err := s.Exec(l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
	if err := s.Exec("exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("exit: %v", err)
	}
	if err := s.Exec("QUIT"); !errors.Is(err, ErrExit) {
		t.Fatalf("quit: %v", err)
	}
	run(t, s, "help")
	if !strings.Contains(out.String(), "pwm <ch> <on> <off>") {
		t.Fatalf("help output %q", out.String())
	}
}
