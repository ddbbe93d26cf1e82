package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/samber/lo"
	"go.bug.st/serial"

	"github.com/autopeer-io/servobridge/cmd/servoprobe/app/options"
	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/pkg/app"
)

const (
	commandName = "servoprobe"
	commandDesc = `The servoprobe lists the host's serial ports and sends a single command
to the servo controller, printing whether it was acknowledged. Use it to
check wiring and firmware before starting servobridge.`
)

var errNoActuator = errors.New("no port looks like a servo controller, pass --serial.device")

func NewApp() *app.App {
	opts := options.NewProbeOptions()
	return app.NewApp(
		commandName,
		"Check the serial link to the servo controller",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithNoConfig(),
		app.WithSilence(),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, os.Stdout)),
	)
}

func run(opts *options.ProbeOptions, out io.Writer) app.RunFunc {
	return func() error {
		ports, err := actuator.ListPorts()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		printPorts(out, ports)
		if opts.List {
			return nil
		}

		device, err := pickDevice(ports, opts.SerialOptions.Device, opts.Auto)
		if err != nil {
			return err
		}

		cmd, _ := options.ParseCommand(opts.Command)
		res, err := probe(opts, device, nil, cmd)
		if err != nil {
			return withPermissionHint(err, device)
		}
		printResult(out, device, res)
		if res.Outcome != actuator.Acknowledged {
			return fmt.Errorf("%s: no acknowledgment within %s", cmd, opts.SerialOptions.AckTimeout)
		}
		return nil
	}
}

// pickDevice returns device, or the first likely actuator when auto is set.
func pickDevice(ports []actuator.PortInfo, device string, auto bool) (string, error) {
	if !auto {
		return device, nil
	}
	p, ok := lo.Find(ports, actuator.LikelyActuator)
	if !ok {
		return "", errNoActuator
	}
	return p.Name, nil
}

func probe(opts *options.ProbeOptions, device string, opener actuator.PortOpener, cmd actuator.Command) (actuator.Result, error) {
	link, err := actuator.Open(actuator.Config{
		Device: device,
		Port: actuator.PortOptions{
			BaudRate: opts.SerialOptions.BaudRate,
			DataBits: opts.SerialOptions.DataBits,
			StopBits: opts.SerialOptions.StopBits,
			Parity:   opts.SerialOptions.Parity,
		},
		SettleDelay: opts.SerialOptions.SettleDelay,
		Opener:      opener,
	})
	if err != nil {
		return actuator.Result{}, err
	}
	defer link.Close()

	return link.Send(cmd, opts.SerialOptions.AckTimeout)
}

// permissionDenied reports whether opening the port failed on access rights.
func permissionDenied(err error) bool {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PermissionDenied {
		return true
	}
	return errors.Is(err, fs.ErrPermission)
}

// withPermissionHint appends the usual fixes when err is an access error.
func withPermissionHint(err error, device string) error {
	if !permissionDenied(err) {
		return err
	}

	hint := fmt.Sprintf("check the permissions of %s (ls -l %s)", device, device)
	if inGroup, ok := inDialoutGroup(); ok && !inGroup {
		hint = "add your user to the dialout group (sudo usermod -aG dialout $USER) and log in again, or " + hint
	}
	return fmt.Errorf("%w\nhint: %s", err, hint)
}

// inDialoutGroup reports membership of the current user in dialout. ok is
// false when either the user or the group cannot be resolved.
func inDialoutGroup() (inGroup bool, ok bool) {
	u, err := user.Current()
	if err != nil {
		return false, false
	}
	g, err := user.LookupGroup("dialout")
	if err != nil {
		return false, false
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false, false
	}
	return lo.Contains(gids, g.Gid), true
}

func printPorts(out io.Writer, ports []actuator.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found.")
		return
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("PORT", "VID:PID", "VENDOR", "SERIAL", "PRODUCT")
	for _, p := range ports {
		vendor, _ := p.Vendor()
		ids := "-"
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		table.AddRow(p.Name, ids, orDash(vendor), orDash(p.SerialNumber), orDash(p.Product))
	}
	fmt.Fprintln(out, table)

	likely := lo.FilterMap(ports, func(p actuator.PortInfo, _ int) (string, bool) {
		return p.Name, actuator.LikelyActuator(p)
	})
	if len(likely) > 0 {
		fmt.Fprintf(out, "\nLikely servo controllers: %s\n", strings.Join(likely, ", "))
	}
}

func orDash(s string) string {
	return lo.Ternary(s == "", "-", s)
}

func printResult(out io.Writer, device string, res actuator.Result) {
	table := uitable.New()
	table.AddRow("DEVICE:", device)
	table.AddRow("COMMAND:", fmt.Sprintf("%s (%q)", res.Command, byte(res.Command)))
	table.AddRow("OUTCOME:", res.Outcome.String())
	table.AddRow("RESPONSE:", strings.TrimSpace(string(res.Response)))
	table.AddRow("ELAPSED:", res.Elapsed.String())
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, table)
}
