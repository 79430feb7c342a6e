// Package shell is a line-oriented console over one PCA9685.
package shell

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"pca9685-go/drivers/pca9685"
	"pca9685-go/errcode"
	"pca9685-go/x/timex"
)

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

type command struct {
	usage string
	min   int // minimum argument count
	run   func(s *Shell, args []string) error
}

// Shell executes console commands against dev and writes results to out.
// It is not safe for concurrent use.
type Shell struct {
	dev  *pca9685.Device
	out  io.Writer
	cmds map[string]command
}

func New(dev *pca9685.Device, out io.Writer) *Shell {
	s := &Shell{dev: dev, out: out}
	s.cmds = map[string]command{
		"reg":    {"reg [reg]", 0, (*Shell).cmdReg},
		"wreg":   {"wreg <reg> <value>", 2, (*Shell).cmdWReg},
		"freq":   {"freq [hz]", 0, (*Shell).cmdFreq},
		"pwm":    {"pwm <ch> <on> <off>", 3, (*Shell).cmdPWM},
		"pwms":   {"pwms <ch> <on:off>...", 2, (*Shell).cmdPWMs},
		"all":    {"all <on> <off>", 2, (*Shell).cmdAll},
		"period": {"period <ch> <seconds> <duty>", 3, (*Shell).cmdPeriod},
		"duty":   {"duty <ch> <percent>", 2, (*Shell).cmdDuty},
		"get":    {"get <ch>", 1, (*Shell).cmdGet},
		"addr":   {"addr [addr]", 0, (*Shell).cmdAddr},
		"status": {"status", 0, (*Shell).cmdStatus},
		"reset":  {"reset", 0, func(s *Shell, _ []string) error { return s.dev.Reset() }},
		"sleep":  {"sleep", 0, func(s *Shell, _ []string) error { return s.dev.Sleep() }},
		"wake":   {"wake", 0, func(s *Shell, _ []string) error { return s.dev.Wake() }},
		"help":   {"help", 0, (*Shell).cmdHelp},
		"exit":   {"exit", 0, func(*Shell, []string) error { return ErrExit }},
	}
	return s
}

// Exec runs one line. Blank lines and # comments do nothing.
func (s *Shell) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	args, err := shlex.Split(line)
	if err != nil {
		return errcode.Wrap(errcode.InvalidParams, "parse", err)
	}
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	if name == "quit" || name == "q" {
		name = "exit"
	}
	c, ok := s.cmds[name]
	if !ok {
		return &errcode.E{C: errcode.Unsupported, Op: name, Msg: "unknown command (try help)"}
	}
	if len(args)-1 < c.min {
		return &errcode.E{C: errcode.InvalidParams, Op: name, Msg: "usage: " + c.usage}
	}
	return c.run(s, args[1:])
}

// Names lists the commands, sorted. Used for completion.
func (s *Shell) Names() []string {
	out := make([]string, 0, len(s.cmds))
	for n := range s.cmds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ---------------- commands ----------------

// cmdReg prints the mode and prescale registers, or one register through
// RegisterValue so LED pairs come back as 12-bit counts.
func (s *Shell) cmdReg(args []string) error {
	if len(args) == 0 {
		for _, r := range []uint8{pca9685.RegMode1, pca9685.RegMode2, pca9685.RegPrescale} {
			v, err := s.dev.ReadRegister(r)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "reg 0x%02X = 0x%02X\n", r, v)
		}
		fmt.Fprintf(s.out, "status %s\n", s.dev.Status())
		return nil
	}
	r, err := parseU8(args[0])
	if err != nil {
		return err
	}
	v, err := s.dev.RegisterValue(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "reg 0x%02X = 0x%02X\n", r, v)
	return nil
}

func (s *Shell) cmdWReg(args []string) error {
	r, err := parseU8(args[0])
	if err != nil {
		return err
	}
	v, err := parseU8(args[1])
	if err != nil {
		return err
	}
	return s.dev.WriteRegister(r, v)
}

func (s *Shell) cmdFreq(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "freq %d Hz (prescale %d, actual %.2f Hz)\n",
			s.dev.Frequency(), s.dev.Prescale(), s.dev.RealizedFrequency())
		return nil
	}
	hz, err := parseU16(args[0])
	if err != nil {
		return err
	}
	prev, err := s.dev.SetFrequency(hz)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "freq %d -> %d Hz (prescale %d)\n", prev, hz, s.dev.Prescale())
	return nil
}

func (s *Shell) cmdPWM(args []string) error {
	ch, err := parseU8(args[0])
	if err != nil {
		return err
	}
	on, err := parseU16(args[1])
	if err != nil {
		return err
	}
	off, err := parseU16(args[2])
	if err != nil {
		return err
	}
	return s.dev.SetPWM(ch, on, off)
}

func (s *Shell) cmdPWMs(args []string) error {
	ch, err := parseU8(args[0])
	if err != nil {
		return err
	}
	on := make([]uint16, 0, len(args)-1)
	off := make([]uint16, 0, len(args)-1)
	for _, a := range args[1:] {
		l, r, ok := strings.Cut(a, ":")
		if !ok {
			return &errcode.E{C: errcode.InvalidParams, Op: "pwms", Msg: "want on:off, got " + a}
		}
		o, err := parseU16(l)
		if err != nil {
			return err
		}
		f, err := parseU16(r)
		if err != nil {
			return err
		}
		on, off = append(on, o), append(off, f)
	}
	return s.dev.SetPWMs(ch, on, off, len(on))
}

func (s *Shell) cmdAll(args []string) error {
	on, err := parseU16(args[0])
	if err != nil {
		return err
	}
	off, err := parseU16(args[1])
	if err != nil {
		return err
	}
	return s.dev.SetAllPWM(on, off)
}

func (s *Shell) cmdPeriod(args []string) error {
	ch, err := parseU8(args[0])
	if err != nil {
		return err
	}
	p, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return errcode.Wrap(errcode.InvalidParams, "period", err)
	}
	duty, err := parseU8(args[2])
	if err != nil {
		return err
	}
	return s.dev.SetPeriod(ch, float32(p), duty)
}

func (s *Shell) cmdDuty(args []string) error {
	ch, err := parseU8(args[0])
	if err != nil {
		return err
	}
	pct, err := parseU8(args[1])
	if err != nil {
		return err
	}
	return s.dev.Channel(ch).SetDuty(pct)
}

func (s *Shell) cmdGet(args []string) error {
	ch, err := parseU8(args[0])
	if err != nil {
		return err
	}
	v, err := s.dev.GetPWM(ch)
	if err != nil {
		return err
	}
	on, off := pca9685.SplitPWM(v)
	fmt.Fprintf(s.out, "ch %d on=%d off=%d (0x%08X)\n", ch, on, off, v)
	return nil
}

func (s *Shell) cmdAddr(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "addr 0x%02X\n", s.dev.Address())
		return nil
	}
	a, err := parseU8(args[0])
	if err != nil {
		return err
	}
	if a > 0x7F {
		return &errcode.E{C: errcode.InvalidParams, Op: "addr", Msg: "7-bit address"}
	}
	prev := s.dev.SetAddress(uint16(a))
	fmt.Fprintf(s.out, "addr 0x%02X -> 0x%02X\n", prev, a)
	return nil
}

func (s *Shell) cmdStatus([]string) error {
	fmt.Fprintf(s.out, "status %s addr 0x%02X freq %d Hz prescale %d\n",
		s.dev.Status(), s.dev.Address(), s.dev.Frequency(), s.dev.Prescale())
	if hz := s.dev.RealizedFrequency(); hz > 0 {
		fmt.Fprintf(s.out, "realized %.2f Hz period %d ns\n", hz, timex.PeriodFromHz(uint32(hz+0.5)))
	}
	return nil
}

func (s *Shell) cmdHelp([]string) error {
	for _, n := range s.Names() {
		fmt.Fprintf(s.out, "  %s\n", s.cmds[n].usage)
	}
	return nil
}

// ---------------- parsing ----------------

func parseU8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errcode.Wrap(errcode.InvalidParams, "parse", err)
	}
	return uint8(v), nil
}

func parseU16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errcode.Wrap(errcode.InvalidParams, "parse", err)
	}
	return uint16(v), nil
}
