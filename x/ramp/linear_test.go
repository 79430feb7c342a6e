package ramp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func collect(levels *[]uint16) Step {
	return func(l uint16) error {
		*levels = append(*levels, l)
		return nil
	}
}

func TestLinearSnaps(t *testing.T) {
	var got []uint16
	if err := Linear(context.Background(), 0, 5000, 4095, 0, 10, collect(&got)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 4095 {
		t.Fatalf("got %v", got)
	}
}

func TestLinearSteps(t *testing.T) {
	var got []uint16
	if err := Linear(context.Background(), 0, 400, 4095, 4*time.Millisecond, 4, collect(&got)); err != nil {
		t.Fatal(err)
	}
	want := []uint16{100, 200, 300, 400}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLinearDown(t *testing.T) {
	var got []uint16
	if err := Linear(context.Background(), 4000, 1000, 4095, 3*time.Millisecond, 3, collect(&got)); err != nil {
		t.Fatal(err)
	}
	if got[0] != 3000 || got[len(got)-1] != 1000 {
		t.Fatalf("got %v", got)
	}
}

func TestLinearCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got []uint16
	if err := Linear(ctx, 0, 4000, 4095, time.Second, 10, collect(&got)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("set called after cancel: %v", got)
	}
}

func TestLinearStopsOnSetError(t *testing.T) {
	boom := errors.New("nack")
	n := 0
	err := Linear(context.Background(), 0, 100, 4095, 10*time.Millisecond, 10, func(uint16) error {
		n++
		return boom
	})
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("err=%v calls=%d", err, n)
	}
}
