package client

import "testing"

func TestBreakerTripsOnPureUndocumented(t *testing.T) {
	b := &breaker{}
	for i := 0; i < 9; i++ {
		b.record(true)
		if !b.allow() {
			t.Fatalf("tripped after %d undocumented outcomes", i+1)
		}
	}
	b.record(true)
	if b.allow() {
		t.Error("did not trip at ten undocumented outcomes")
	}
}

func TestBreakerRatioHoldsItBack(t *testing.T) {
	b := &breaker{}
	// Ten undocumented outcomes diluted below one percent.
	for i := 0; i < 991; i++ {
		b.record(false)
	}
	for i := 0; i < 10; i++ {
		b.record(true)
	}
	// 10 of 1001 is just under one percent.
	if !b.allow() {
		t.Fatal("tripped below the one percent ratio")
	}
	b.record(true)
	// 11 of 1002 crosses it.
	if b.allow() {
		t.Error("did not trip once the ratio was crossed")
	}
}

func TestBreakerIsIrreversible(t *testing.T) {
	b := &breaker{}
	for i := 0; i < 10; i++ {
		b.record(true)
	}
	if b.allow() {
		t.Fatal("breaker did not trip")
	}
	for i := 0; i < 10000; i++ {
		b.record(false)
	}
	if b.allow() {
		t.Error("breaker reset after successes; it must not")
	}
}

func TestBreakerNeedsMinimumCount(t *testing.T) {
	b := &breaker{}
	// Nine undocumented outcomes of nine total: a 100% ratio, still below
	// the minimum count.
	for i := 0; i < 9; i++ {
		b.record(true)
	}
	if !b.allow() {
		t.Error("tripped below the minimum undocumented count")
	}
}
