package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func testLayout() Service {
	return Service{
		UUID: "ff00",
		Characteristics: []Characteristic{
			{UUID: "ff01"},
			{UUID: "ff02"},
		},
	}
}

func TestEndpointEqual(t *testing.T) {
	tests := []struct {
		a, b Endpoint
		want bool
	}{
		{NewEndpoint("FF00", "FF01"), NewEndpoint("ff00", "ff01"), true},
		{NewEndpoint("ff00", "0001"), NewEndpoint("0000FF00-0000-1000-8000-00805F9B34FB", "00000001-0000-1000-8000-00805f9b34fb"), true},
		{NewEndpoint("ff00", "ff01"), NewEndpoint("ff00", "ff02"), false},
		{
			NewEndpoint("8E60F02E-F699-4865-B83F-F40501752184", "9280F26C-A56F-43EA-B769-D5D732E1AC67"),
			NewEndpoint("8e60f02e-f699-4865-b83f-f40501752184", "9280f26c-a56f-43ea-b769-d5d732e1ac67"),
			true,
		},
	}

	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0000FF01-0000-1000-8000-00805F9B34FB"); got != "ff01" {
		t.Errorf("ShortID() = %q, want ff01", got)
	}
	if !IsGenericService("1800") || !IsGenericService("00001801-0000-1000-8000-00805f9b34fb") {
		t.Error("generic services not recognised")
	}
	if IsGenericService("ff00") {
		t.Error("ff00 reported as generic")
	}
}

func TestMemoryWriteAndRead(t *testing.T) {
	m := NewMemory(testLayout())
	ep := NewEndpoint("ff00", "ff01")

	if err := m.WriteWithResponse(ep, []byte("hello")); err != nil {
		t.Fatalf("WriteWithResponse() error = %v", err)
	}
	got, err := m.Read(ep)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Read() = %q", got)
	}

	if err := m.WriteWithoutResponse(ep, make([]byte, 10), 4); err == nil {
		t.Error("expected oversize write to fail")
	}
	if err := m.WriteWithResponse(NewEndpoint("ff00", "dead"), nil); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("unknown endpoint error = %v", err)
	}
}

func TestMemoryFailNextWrites(t *testing.T) {
	m := NewMemory(testLayout())
	ep := NewEndpoint("ff00", "ff01")
	m.FailNextWrites(ep, 2)

	for i := 0; i < 2; i++ {
		if err := m.WriteWithResponse(ep, []byte{1}); !errors.Is(err, ErrInjected) {
			t.Fatalf("write %d error = %v, want ErrInjected", i, err)
		}
	}
	if err := m.WriteWithResponse(ep, []byte{1}); err != nil {
		t.Fatalf("third write error = %v", err)
	}
	if n := len(m.WritesTo(ep)); n != 1 {
		t.Errorf("recorded %d writes, want 1", n)
	}
}

func TestMemoryNotify(t *testing.T) {
	m := NewMemory(testLayout())
	ep := NewEndpoint("ff00", "ff02")

	if m.Notify(ep, []byte{0x02}) {
		t.Error("Notify without subscriber should return false")
	}

	ch, err := m.Subscribe(ep)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !m.Notify(ep, []byte{0x02}) {
		t.Fatal("Notify() = false")
	}
	select {
	case ev := <-ch:
		if ev.Payload[0] != 0x02 {
			t.Errorf("payload = % X", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}

	if err := m.Unsubscribe(ep); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestMemoryDisconnect(t *testing.T) {
	m := NewMemory(testLayout())
	ep := NewEndpoint("ff00", "ff02")
	ch, _ := m.Subscribe(ep)

	m.Disconnect()
	m.Disconnect()

	select {
	case <-m.Disconnected():
	default:
		t.Fatal("Disconnected() not closed")
	}
	if _, ok := <-ch; ok {
		t.Error("subscription should close on disconnect")
	}
	if err := m.WriteWithResponse(ep, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("write after disconnect error = %v", err)
	}
}

func TestMemoryServices(t *testing.T) {
	m := NewMemory(testLayout())

	services, err := m.Services()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || len(services[0].Characteristics) != 2 || services[0].Characteristics[1].UUID != "ff02" {
		t.Errorf("Services() = %+v", services)
	}

	m.Disconnect()
	if _, err := m.Services(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Services() after disconnect error = %v", err)
	}
}
