package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/fields"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/sim"
	"github.com/vitaminmoo/bluelocate/internal/transport"
	"github.com/vitaminmoo/bluelocate/internal/util"
)

// Explore lists all services and characteristics, reading each one.
// Reads are safe: nothing is written to the device.
func Explore(w io.Writer, dev Device) error {
	services, err := dev.Services()
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}

	fmt.Fprintf(w, "Found %d services:\n\n", len(services))

	for i, svc := range services {
		label := ""
		if transport.IsGenericService(svc.UUID) {
			label = " (generic)"
		}
		fmt.Fprintf(w, "Service #%d: %s%s\n", i+1, svc.UUID, label)

		for j, c := range svc.Characteristics {
			fmt.Fprintf(w, "  [%d] %s\n", j+1, c.UUID)

			data, err := dev.Read(transport.NewEndpoint(svc.UUID, c.UUID))
			if err != nil {
				config.Debugf("read %s/%s: %v", svc.UUID, c.UUID, err)
				continue
			}
			if len(data) > 0 {
				fmt.Fprintf(w, "      Value: %s\n", util.FormatValue(data))
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ParseAction maps a command name to its action byte.
func ParseAction(name string) (protocol.Action, error) {
	switch strings.ToLower(name) {
	case "start":
		return protocol.ActionStart, nil
	case "eof", "end-of-file":
		return protocol.ActionEndOfFile, nil
	case "finish":
		return protocol.ActionFinish, nil
	default:
		return 0, fmt.Errorf("unknown action %q (want start, eof or finish)", name)
	}
}

// Encode prints the wire form of a command without connecting.
func Encode(w io.Writer, action string, base uint32, sectors int) error {
	a, err := ParseAction(action)
	if err != nil {
		return err
	}
	cmd := protocol.Command{Action: a, BaseAddress: base}
	if a == protocol.ActionStart {
		cmd.SectorCount = sectors
	}

	frame, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Command: %s\n", cmd)
	fmt.Fprintf(w, "Encoded (%d bytes): %X\n", len(frame), frame)
	fmt.Fprint(w, util.HexDump(frame))

	decoded, err := protocol.Decode(frame)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	fmt.Fprintf(w, "Decoded: %s\n", decoded)
	return nil
}

// SimulateOptions selects what debug simulate runs and how the fake peer behaves.
type SimulateOptions struct {
	Firmware string
	Values   fields.Values
	Behavior sim.Behavior
	Out      io.Writer
}

// Simulate runs an upload and/or a config push against a simulated device
// using the current settings.
func Simulate(ctx context.Context, settings *config.Settings, opts SimulateOptions) error {
	peer := sim.New(settings, opts.Behavior)
	w := opts.Out

	if opts.Firmware != "" {
		fmt.Fprintln(w, "== Upload ==")
		res, err := Upload(ctx, peer, settings, opts.Firmware, UploadOptions{Yes: true, Plain: true, Out: w})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Peer received %d bytes in %d chunks, frames:", len(peer.Firmware()), peer.Chunks())
		for _, f := range peer.Frames() {
			fmt.Fprintf(w, " %s", f)
		}
		fmt.Fprintln(w)
		if !res.RebootConfirmed {
			config.Warnf("Simulated peer did not confirm reboot")
		}
	}

	if len(opts.Values) > 0 {
		fmt.Fprintln(w, "\n== Config push ==")
		if _, err := Push(ctx, w, peer, settings, opts.Values); err != nil {
			return err
		}
		for _, f := range settings.Push.Fields {
			var parts []string
			for _, s := range f.Slots {
				if v := peer.Value(transport.NewEndpoint(sim.ConfigService, s.Characteristic)); len(v) > 0 {
					parts = append(parts, string(v))
				}
			}
			if len(parts) > 0 {
				fmt.Fprintf(w, "  peer %-16s %q\n", f.Name, strings.Join(parts, ""))
			}
		}
	}
	return nil
}
