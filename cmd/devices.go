package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"qatmgr-go/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List discovered QAT accelerator VFs",
	Long:  `Enumerate QAT virtual functions passed through VFIO without starting the broker, for diagnostic use.`,
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table, json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	vfs, err := device.Enumerate(ctx, device.EnumerateOptions{})
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}

	topo, err := device.BuildPFTopology(vfs)
	if err != nil {
		return fmt.Errorf("build PF topology: %w", err)
	}

	if devicesFormat == "json" {
		return outputDevicesJSON(vfs, topo)
	}
	return outputDevicesTable(vfs, topo)
}

func outputDevicesTable(vfs []device.VF, topo *device.PFTopology) error {
	if len(vfs) == 0 {
		fmt.Println("no QAT accelerators found")
		return nil
	}

	// Color the header when writing to an interactive terminal, matching
	// how other daemons in the pack decide when to decorate table output.
	header := "BDF\tTYPE\tNODE\tPKG_ID"
	if term.IsTerminal(int(os.Stdout.Fd())) {
		header = "\x1b[1m" + header + "\x1b[0m"
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, header)
	for _, vf := range vfs {
		pkgID, err := topo.PackageID(vf.BDF)
		if err != nil {
			pkgID = device.PkgIDNone
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
			vf.BDF.String(), device.QATDeviceName(device.QATDeviceType(vf.DeviceID)), vf.NUMANode, pkgID)
	}
	return w.Flush()
}

func outputDevicesJSON(vfs []device.VF, topo *device.PFTopology) error {
	type deviceItem struct {
		BDF    string `json:"bdf"`
		Type   string `json:"type"`
		Node   int    `json:"node"`
		PkgID  int16  `json:"pkg_id"`
	}

	items := make([]deviceItem, len(vfs))
	for i, vf := range vfs {
		pkgID, err := topo.PackageID(vf.BDF)
		if err != nil {
			pkgID = device.PkgIDNone
		}
		items[i] = deviceItem{
			BDF:   vf.BDF.String(),
			Type:  device.QATDeviceName(device.QATDeviceType(vf.DeviceID)),
			Node:  vf.NUMANode,
			PkgID: pkgID,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(items)
}
