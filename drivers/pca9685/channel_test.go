package pca9685

import "testing"

func TestChannelDuty(t *testing.T) {
	d, chip := newSimDevice(t, Config{})
	c := d.Channel(4)

	cases := []struct {
		pct     uint8
		on, off uint16
		duty    uint8
	}{
		{0, 0, FullOn, 0},
		{25, 0, 1024, 25},
		{50, 0, 2048, 50},
		{100, FullOn, 0, 100},
		{180, FullOn, 0, 100},
	}
	for _, tc := range cases {
		if err := c.SetDuty(tc.pct); err != nil {
			t.Fatal(err)
		}
		on, off := chip.Counts(4)
		if on != tc.on || off != tc.off {
			t.Fatalf("SetDuty(%d): counts %#x/%#x, want %#x/%#x", tc.pct, on, off, tc.on, tc.off)
		}
		if c.Duty() != tc.duty {
			t.Fatalf("Duty() = %d, want %d", c.Duty(), tc.duty)
		}
	}
}

func TestChannelFreqIsChipWide(t *testing.T) {
	d, _ := newSimDevice(t, Config{})
	a, b := d.Channel(0), d.Channel(9)
	if err := a.SetFreq(1000); err != nil {
		t.Fatal(err)
	}
	if b.Freq() != 1000 || d.Frequency() != 1000 {
		t.Fatalf("Freq() = %d", b.Freq())
	}
	if b.Number() != 9 {
		t.Fatalf("Number() = %d", b.Number())
	}
}

func TestChannelKeepsDutyOnError(t *testing.T) {
	d, chip := newSimDevice(t, Config{})
	c := d.Channel(1)
	if err := c.SetDuty(40); err != nil {
		t.Fatal(err)
	}
	chip.Fail(errTest)
	if err := c.SetDuty(60); err == nil {
		t.Fatal("want error")
	}
	if c.Duty() != 40 {
		t.Fatalf("Duty() = %d after failed write", c.Duty())
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest testErr = "injected"
