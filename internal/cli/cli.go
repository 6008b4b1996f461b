package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/vitaminmoo/bluelocate/internal/ble"
	"github.com/vitaminmoo/bluelocate/internal/commands"
	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/fields"
	"github.com/vitaminmoo/bluelocate/internal/sim"
	"github.com/vitaminmoo/bluelocate/internal/store"
)

// CLI is the root command structure for bluelocate.
type CLI struct {
	Verbose    bool   `short:"v" help:"Enable verbose debug output"`
	ConfigFile string `name:"config" type:"path" placeholder:"FILE" help:"Settings file (default: user config dir/bluelocate/config.yaml)"`
	Device     string `placeholder:"NAME" help:"Advertised name to connect to (overrides settings)"`

	Ota     OtaCmd     `cmd:"" help:"Firmware upload"`
	Cfg     ConfigCmd  `cmd:"" name:"config" help:"Device configuration"`
	Profile ProfileCmd `cmd:"" help:"Saved configuration profiles"`
	Debug   DebugCmd   `cmd:"" help:"Debug and development tools"`
}

// settings applies the global flags and loads the settings file.
func (c *CLI) settings() (*config.Settings, error) {
	config.SetVerbose(c.Verbose)

	path := c.ConfigFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if c.Device != "" {
		s.Device.Name = c.Device
	}
	return s, nil
}

func (c *CLI) settingsPath() (string, error) {
	if c.ConfigFile != "" {
		return c.ConfigFile, nil
	}
	return config.DefaultPath()
}

func connect(ctx context.Context, s *config.Settings) (*ble.Link, error) {
	return ble.Connect(ctx, s.Device.Name, s.Device.ScanTimeout())
}

func closeLink(link *ble.Link) {
	if err := link.Close(); err != nil {
		config.Debugf("Disconnect: %v", err)
	}
}

func openStore() (*store.Store, error) {
	s, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

// --- OTA Commands ---

type OtaCmd struct {
	Estimate OtaEstimateCmd `cmd:"" help:"Show size, sector count and chunk count of an image"`
	Upload   OtaUploadCmd   `cmd:"" help:"Upload a firmware image to the device"`
}

type OtaEstimateCmd struct {
	File string `arg:"" type:"existingfile" help:"Firmware image"`
}

func (c *OtaEstimateCmd) Run(globals *CLI) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	return commands.Estimate(os.Stdout, s, c.File)
}

type OtaUploadCmd struct {
	File  string `arg:"" type:"existingfile" help:"Firmware image"`
	Yes   bool   `short:"y" help:"Do not ask for confirmation"`
	Plain bool   `help:"Print progress lines instead of the interactive view"`
}

func (c *OtaUploadCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	link, err := connect(ctx, s)
	if err != nil {
		return err
	}
	defer closeLink(link)

	_, err = commands.Upload(ctx, link, s, c.File, commands.UploadOptions{
		Yes:        c.Yes,
		Plain:      c.Plain || !isatty.IsTerminal(os.Stdout.Fd()),
		DeviceName: fmt.Sprintf("%s (%s)", s.Device.Name, link.Address()),
		In:         os.Stdin,
		Out:        os.Stdout,
	})
	return err
}

// --- Config Commands ---

type ConfigCmd struct {
	Push ConfigPushCmd `cmd:"" help:"Write configuration fields to the device"`
	Map  ConfigMapCmd  `cmd:"" help:"Show how configuration fields map to characteristics"`
	Init ConfigInitCmd `cmd:"" help:"Write a settings file with the defaults"`
}

// ValueFlags are the per-field flags shared by config push and debug simulate.
type ValueFlags struct {
	URL      string   `help:"Broker URL"`
	APN      string   `name:"apn" help:"Cellular APN"`
	Topic    string   `help:"Publish topic"`
	Sleep    string   `help:"Sleep interval in minutes (4, 8, 12 or 16)"`
	Port     string   `help:"Broker port"`
	DataRate string   `help:"Data rate"`
	Phone    []string `help:"Phone numbers, in slot order (up to 6)"`
}

// Values converts the flags into field values.
func (f ValueFlags) Values() (fields.Values, error) {
	if len(f.Phone) > 6 {
		return nil, fmt.Errorf("at most 6 phone numbers, got %d", len(f.Phone))
	}
	v := fields.Values{
		fields.FieldURL:           f.URL,
		fields.FieldAPN:           f.APN,
		fields.FieldTopic:         f.Topic,
		fields.FieldSleepInterval: f.Sleep,
		fields.FieldPort:          f.Port,
		fields.FieldDataRate:      f.DataRate,
	}
	for i, p := range f.Phone {
		v[fields.PhoneField(i+1)] = p
	}
	return v, nil
}

type ConfigPushCmd struct {
	ValueFlags `embed:""`

	Scan    string `type:"existingfile" placeholder:"FILE" help:"QR code JSON to take values from"`
	Profile string `placeholder:"NAME" help:"Start from a saved profile"`
	Save    string `placeholder:"NAME" help:"Save the pushed values as a profile"`
}

func (c *ConfigPushCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}

	flags, err := c.ValueFlags.Values()
	if err != nil {
		return err
	}

	var profiles *store.Store
	if c.Profile != "" || c.Save != "" {
		if profiles, err = openStore(); err != nil {
			return err
		}
	}

	values, source, err := commands.ResolveValues(commands.PushInput{
		Profile:  c.Profile,
		ScanFile: c.Scan,
		Flags:    flags,
	}, profiles)
	if err != nil {
		return err
	}

	link, err := connect(ctx, s)
	if err != nil {
		return err
	}
	defer closeLink(link)

	if _, err := commands.Push(ctx, os.Stdout, link, s, values); err != nil {
		return err
	}

	if c.Save != "" {
		if source.DeviceID == "" {
			source.DeviceID = link.Address()
		}
		source.Timestamp = time.Now()
		return commands.SaveProfile(os.Stdout, profiles, c.Save, values, source)
	}
	return nil
}

type ConfigMapCmd struct{}

func (c *ConfigMapCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	link, err := connect(ctx, s)
	if err != nil {
		return err
	}
	defer closeLink(link)
	return commands.FieldMap(os.Stdout, link, s)
}

type ConfigInitCmd struct {
	Force bool `help:"Overwrite an existing file"`
}

func (c *ConfigInitCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	path, err := globals.settingsPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// --- Profile Commands ---

type ProfileCmd struct {
	List   ProfileListCmd   `cmd:"" help:"List saved profiles"`
	Show   ProfileShowCmd   `cmd:"" help:"Show a profile"`
	Delete ProfileDeleteCmd `cmd:"" help:"Delete a profile"`
	Import ProfileImportCmd `cmd:"" help:"Import a profile from a QR code JSON or YAML file"`
}

type ProfileListCmd struct{}

func (c *ProfileListCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.ProfileList(os.Stdout, s)
}

type ProfileShowCmd struct {
	Name string `arg:"" help:"Profile name or hash prefix"`
	JSON bool   `help:"Print the stored profile as JSON"`
}

func (c *ProfileShowCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.ProfileShow(os.Stdout, s, c.Name, c.JSON)
}

type ProfileDeleteCmd struct {
	Name string `arg:"" help:"Profile name"`
	Yes  bool   `short:"y" help:"Do not ask for confirmation"`
}

func (c *ProfileDeleteCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	s, err := openStore()
	if err != nil {
		return err
	}
	if !c.Yes && !commands.ConfirmAction(os.Stdin, os.Stdout, fmt.Sprintf("Delete profile %s? Type 'yes' to continue: ", c.Name)) {
		fmt.Println("Aborted.")
		return nil
	}
	return commands.ProfileDelete(os.Stdout, s, c.Name)
}

type ProfileImportCmd struct {
	Name string `arg:"" help:"Profile name"`
	File string `arg:"" type:"existingfile" help:"QR code JSON or YAML values file"`
}

func (c *ProfileImportCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	s, err := openStore()
	if err != nil {
		return err
	}
	return commands.ProfileImport(os.Stdout, s, c.Name, c.File)
}

// --- Debug Commands ---

type DebugCmd struct {
	Scan     DebugScanCmd     `cmd:"" help:"List advertising devices"`
	Explore  DebugExploreCmd  `cmd:"" help:"List all BLE services and characteristics"`
	Encode   DebugEncodeCmd   `cmd:"" help:"Encode a transfer command without connecting"`
	Simulate DebugSimulateCmd `cmd:"" help:"Run an upload or config push against a simulated device"`
}

type DebugScanCmd struct {
	Filter string `arg:"" optional:"" help:"Only show names containing this"`
}

func (c *DebugScanCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	fmt.Printf("Scanning for %s...\n", s.Device.ScanTimeout())
	results, err := ble.Scan(ctx, c.Filter, s.Device.ScanTimeout())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, r := range results {
		fmt.Printf("  %-24s %s  %d dBm\n", r.Name, r.Address, r.RSSI)
	}
	fmt.Printf("%d devices\n", len(results))
	return nil
}

type DebugExploreCmd struct{}

func (c *DebugExploreCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	link, err := connect(ctx, s)
	if err != nil {
		return err
	}
	defer closeLink(link)
	return commands.Explore(os.Stdout, link)
}

type DebugEncodeCmd struct {
	Action  string `arg:"" enum:"start,eof,end-of-file,finish" help:"start, eof or finish"`
	Base    string `default:"0x000000" help:"Base address (24 bits)"`
	Sectors int    `default:"0" help:"Sector count (start only)"`
}

func (c *DebugEncodeCmd) Run(globals *CLI) error {
	config.SetVerbose(globals.Verbose)
	base, err := strconv.ParseUint(c.Base, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid base address %q: %w", c.Base, err)
	}
	return commands.Encode(os.Stdout, c.Action, uint32(base), c.Sectors)
}

type DebugSimulateCmd struct {
	ValueFlags `embed:""`

	Firmware     string `type:"existingfile" placeholder:"FILE" help:"Firmware image to upload"`
	RejectStart  bool   `help:"Answer the start command with a non-ready status"`
	SilentFinish bool   `help:"Never confirm the finish command"`
	DropAfter    int    `placeholder:"N" help:"Drop the link after N raw data chunks"`
}

func (c *DebugSimulateCmd) Run(globals *CLI, ctx context.Context) error {
	s, err := globals.settings()
	if err != nil {
		return err
	}
	values, err := c.ValueFlags.Values()
	if err != nil {
		return err
	}
	for k, v := range values {
		if v == "" {
			delete(values, k)
		}
	}
	if c.Firmware == "" && len(values) == 0 {
		return errors.New("nothing to simulate: give --firmware and/or field values")
	}

	b := sim.Behavior{
		SilentFinish:          c.SilentFinish,
		DisconnectAfterChunks: c.DropAfter,
	}
	if c.RejectStart {
		b.StartReply = []byte{0x00}
	}
	return commands.Simulate(ctx, s, commands.SimulateOptions{
		Firmware: c.Firmware,
		Values:   values,
		Behavior: b,
		Out:      os.Stdout,
	})
}
