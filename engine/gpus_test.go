package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/vulkan"
)

func TestWriteGPUList(t *testing.T) {
	var buf bytes.Buffer
	err := writeGPUList(&buf, []vulkan.PhysicalDeviceInfo{
		{Index: 0, Name: "Integrated", Kind: "integrated", APIVersion: "1.3.0", DriverVersion: "1.0.0"},
		{Index: 1, Name: "Discrete", Kind: "discrete", APIVersion: "1.3.0", DriverVersion: "550.0.0", LocalMemoryBytes: 8 << 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "0: Integrated") || !strings.HasPrefix(lines[1], "1: Discrete") {
		t.Errorf("devices not listed by index: %q", lines[:2])
	}
	if !strings.Contains(lines[2], "-gpu") {
		t.Errorf("missing usage hint: %q", lines[2])
	}

	buf.Reset()
	if err := writeGPUList(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no Vulkan devices") {
		t.Errorf("empty list printed %q", buf.String())
	}
}
