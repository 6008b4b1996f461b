package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/engine"
	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/ota"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/tui"
)

// Estimate prints what uploading the image at path would involve.
func Estimate(w io.Writer, settings *config.Settings, path string) error {
	img, err := firmware.Load(path)
	if err != nil {
		return err
	}
	est := img.Estimate(settings.OTA.ChunkSize)
	printEstimate(w, est, settings.OTA)
	printFormat(w, img)
	return nil
}

func printEstimate(w io.Writer, est firmware.Estimate, s config.OTASettings) {
	fmt.Fprintf(w, "Image:    %s\n", est.Name)
	fmt.Fprintf(w, "Size:     %s (%s bytes)\n", est.HumanSize, humanize.Comma(int64(est.Size)))
	if s.SendSectorCount() && est.SectorCount > protocol.MaxSectorCount {
		fmt.Fprintf(w, "Sectors:  %d (over %d, the start frame carries 0)\n", est.SectorCount, protocol.MaxSectorCount)
	} else {
		fmt.Fprintf(w, "Sectors:  %d\n", est.SectorCount)
	}
	fmt.Fprintf(w, "Chunks:   %s x %d bytes\n", humanize.Comma(int64(est.Chunks)), s.ChunkSize)

	// Lower bound: pacing delay only, link time not included.
	minimum := time.Duration(est.Chunks) * s.ChunkDelay()
	fmt.Fprintf(w, "Duration: at least %s\n", minimum.Round(100*time.Millisecond))
}

func printFormat(w io.Writer, img *firmware.Image) {
	if info := firmware.InspectESP32(img); info != nil {
		fmt.Fprintf(w, "Format:   %s\n", info)
	}
}

// UploadOptions controls the interactive side of an upload.
type UploadOptions struct {
	// Yes skips the confirmation prompt.
	Yes bool
	// Plain prints line progress instead of the TUI.
	Plain bool
	// DeviceName is shown in the progress view.
	DeviceName string

	In  io.Reader
	Out io.Writer
}

// Upload sends the image at path to dev and reports the result.
func Upload(ctx context.Context, dev Device, settings *config.Settings, path string, opts UploadOptions) (ota.Result, error) {
	img, err := firmware.Load(path)
	if err != nil {
		return ota.Result{}, err
	}

	eng := engine.New(dev, engine.OptionsFromSettings(settings))

	var est firmware.Estimate
	u, err := eng.StartUpload(ctx, img, func(e firmware.Estimate) bool {
		est = e
		printEstimate(opts.Out, e, settings.OTA)
		printFormat(opts.Out, img)
		if opts.Yes {
			return true
		}
		fmt.Fprintln(opts.Out)
		fmt.Fprintln(opts.Out, "WARNING: the device reboots into the new firmware when the upload completes.")
		fmt.Fprintln(opts.Out, "Do not disconnect or power off the device during the upload.")
		return ConfirmAction(opts.In, opts.Out, "Type 'yes' to continue: ")
	})
	if errors.Is(err, engine.ErrDeclined) {
		fmt.Fprintln(opts.Out, "Aborted.")
		return ota.Result{}, err
	}
	if err != nil {
		return ota.Result{}, fmt.Errorf("failed to start upload: %w", err)
	}
	config.Debugf("Upload session %s started", u.ID)

	var res ota.Result
	if opts.Plain {
		res = tui.RunPlain(opts.Out, u)
	} else {
		res, err = tui.RunUpload(u, est, opts.DeviceName)
		if err != nil {
			return res, err
		}
	}

	PrintResult(opts.Out, res)
	if res.State == ota.Failed {
		return res, res.Err
	}
	return res, nil
}

// PrintResult summarizes a finished upload.
func PrintResult(w io.Writer, res ota.Result) {
	fmt.Fprintln(w)
	switch {
	case res.State == ota.Failed:
		fmt.Fprintf(w, "Upload failed after %s: %v\n", humanize.Bytes(uint64(res.BytesSent)), res.Err)
	case res.RebootConfirmed:
		fmt.Fprintf(w, "Upload complete (%s in %s), device confirmed reboot\n",
			humanize.Bytes(uint64(res.BytesSent)), res.Elapsed.Round(100*time.Millisecond))
	default:
		fmt.Fprintf(w, "Upload complete (%s in %s)\n",
			humanize.Bytes(uint64(res.BytesSent)), res.Elapsed.Round(100*time.Millisecond))
		if res.Warning != "" {
			fmt.Fprintf(w, "Warning: %s\n", res.Warning)
		}
	}
}
