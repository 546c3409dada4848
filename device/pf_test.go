package device

import (
	"os"
	"path/filepath"
	"testing"
)

func fakePCITree(t *testing.T, vfToPF map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for vf, pf := range vfToPF {
		dir := filepath.Join(root, vf, "physfn")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		content := "DRIVER=vfio-pci\nPCI_SLOT_NAME=" + pf + "\nMODALIAS=pci:foo\n"
		if err := os.WriteFile(filepath.Join(dir, "uevent"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := sysfsPCIDevices
	sysfsPCIDevices = root
	t.Cleanup(func() { sysfsPCIDevices = old })
	return root
}

func TestBuildPFTopology_AssignsPackageIDsInSortedOrder(t *testing.T) {
	fakePCITree(t, map[string]string{
		"0000:3d:01.0": "0000:3d:00.0",
		"0000:3d:01.1": "0000:3d:00.0",
		"0000:7f:01.0": "0000:7f:00.0",
	})

	vfs := []VF{
		{BDF: BDF{Domain: 0, Bus: 0x3d, Device: 1, Function: 0}},
		{BDF: BDF{Domain: 0, Bus: 0x3d, Device: 1, Function: 1}},
		{BDF: BDF{Domain: 0, Bus: 0x7f, Device: 1, Function: 0}},
	}

	topo, err := BuildPFTopology(vfs)
	if err != nil {
		t.Fatalf("BuildPFTopology: %v", err)
	}
	if topo.VM {
		t.Fatal("expected host mode, not VM mode")
	}
	if topo.NumPFs() != 2 {
		t.Fatalf("expected 2 PFs, got %d", topo.NumPFs())
	}

	pkg0, err := topo.PackageID(vfs[0].BDF)
	if err != nil {
		t.Fatalf("PackageID: %v", err)
	}
	pkg2, err := topo.PackageID(vfs[2].BDF)
	if err != nil {
		t.Fatalf("PackageID: %v", err)
	}
	if pkg0 == pkg2 {
		t.Error("expected distinct PFs to get distinct package ids")
	}
	// First-seen order over the sorted VFs: the PF at bus 0x3d is seen
	// before the PF at bus 0x7f.
	if pkg0 != 0 || pkg2 != 1 {
		t.Errorf("pkg0=%d pkg2=%d, want 0,1", pkg0, pkg2)
	}
}

func TestBuildPFTopology_VMModeWhenNoPhysfn(t *testing.T) {
	fakePCITree(t, nil)

	vfs := []VF{{BDF: BDF{Domain: 0, Bus: 1, Device: 0, Function: 0}}}
	topo, err := BuildPFTopology(vfs)
	if err != nil {
		t.Fatalf("BuildPFTopology: %v", err)
	}
	if !topo.VM {
		t.Fatal("expected VM mode when no physfn can be resolved")
	}
	pkg, err := topo.PackageID(vfs[0].BDF)
	if err != nil {
		t.Fatalf("PackageID: %v", err)
	}
	if pkg != PkgIDNone {
		t.Errorf("expected PkgIDNone in VM mode, got %d", pkg)
	}
}
