// Package sim provides a scripted tracker peripheral on top of
// transport.Memory. It answers the OTA handshake the way the device
// firmware does and can be told to misbehave.
package sim

import (
	"sync"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// ConfigService is the service carrying the configuration characteristics.
const ConfigService = "fff0"

// Behavior scripts how the peer answers.
type Behavior struct {
	// StartReply is the notification sent for Start; nil means StatusReady.
	StartReply []byte
	// FinishReply is the notification sent for Finish; nil means StatusRebootConfirmed.
	FinishReply []byte

	SilentStart  bool // never answer Start
	SilentFinish bool // never answer Finish

	// DisconnectAfterChunks drops the link once that many raw chunks arrived.
	DisconnectAfterChunks int
	// DisconnectOnFinish drops the link instead of answering Finish.
	DisconnectOnFinish bool
}

// Peer is a simulated device.
type Peer struct {
	*transport.Memory

	ota      config.OTASettings
	behavior Behavior

	mu       sync.Mutex
	frames   []protocol.Command
	firmware []byte
	chunks   int
}

// Layout is the GATT table of the stock device for the given settings.
func Layout(s *config.Settings) []transport.Service {
	cfgChars := []transport.Characteristic{}
	seen := map[string]bool{}
	for _, f := range s.Push.Fields {
		for _, slot := range f.Slots {
			if seen[slot.Characteristic] {
				continue
			}
			seen[slot.Characteristic] = true
			cfgChars = append(cfgChars, transport.Characteristic{UUID: slot.Characteristic})
		}
	}

	return []transport.Service{
		{
			UUID: "1800",
			Characteristics: []transport.Characteristic{
				{UUID: "2a00"},
			},
		},
		{
			UUID: s.OTA.Service,
			Characteristics: []transport.Characteristic{
				{UUID: s.OTA.Start},
				{UUID: s.OTA.Confirm},
				{UUID: s.OTA.RawData},
			},
		},
		{UUID: ConfigService, Characteristics: cfgChars},
	}
}

// New creates a connected peer for settings s.
func New(s *config.Settings, b Behavior) *Peer {
	if b.StartReply == nil {
		b.StartReply = []byte{byte(protocol.StatusReady)}
	}
	if b.FinishReply == nil {
		b.FinishReply = []byte{byte(protocol.StatusRebootConfirmed)}
	}
	p := &Peer{
		Memory:   transport.NewMemory(Layout(s)...),
		ota:      s.OTA,
		behavior: b,
	}
	p.OnWrite(p.handle)
	return p
}

func (p *Peer) confirm() transport.Endpoint {
	return transport.NewEndpoint(p.ota.Service, p.ota.Confirm)
}

func (p *Peer) handle(w transport.Write) {
	switch {
	case w.Endpoint.Equal(transport.NewEndpoint(p.ota.Service, p.ota.Start)):
		p.handleCommand(w.Data)
	case w.Endpoint.Equal(transport.NewEndpoint(p.ota.Service, p.ota.RawData)):
		p.mu.Lock()
		p.firmware = append(p.firmware, w.Data...)
		p.chunks++
		drop := p.behavior.DisconnectAfterChunks > 0 && p.chunks == p.behavior.DisconnectAfterChunks
		p.mu.Unlock()
		if drop {
			config.Debugf("sim: dropping link after %d chunks", p.behavior.DisconnectAfterChunks)
			p.Disconnect()
		}
	}
}

func (p *Peer) handleCommand(frame []byte) {
	cmd, err := protocol.Decode(frame)
	if err != nil {
		config.Debugf("sim: ignoring bad frame % X: %v", frame, err)
		return
	}
	p.mu.Lock()
	p.frames = append(p.frames, cmd)
	p.mu.Unlock()
	config.Debugf("sim: received %s", cmd)

	switch cmd.Action {
	case protocol.ActionStart:
		if !p.behavior.SilentStart {
			p.Notify(p.confirm(), p.behavior.StartReply)
		}
	case protocol.ActionFinish:
		if p.behavior.DisconnectOnFinish {
			p.Disconnect()
			return
		}
		if !p.behavior.SilentFinish {
			p.Notify(p.confirm(), p.behavior.FinishReply)
		}
	}
}

// Frames returns the command frames received so far.
func (p *Peer) Frames() []protocol.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Command, len(p.frames))
	copy(out, p.frames)
	return out
}

// Firmware returns the raw bytes received so far.
func (p *Peer) Firmware() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.firmware))
	copy(out, p.firmware)
	return out
}

// Chunks is the number of raw writes received.
func (p *Peer) Chunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks
}
