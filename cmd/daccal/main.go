// daccal runs the AD9739A bring-up sequence from the command line and shows
// progress per calibration stage.  It is the tool to reach for when a DAC
// fails to lock and you want to see which stage is at fault without
// standing up the full server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/open-instrument/daccore/ad9739a"
	"github.com/open-instrument/daccore/axidac"
	"github.com/open-instrument/daccore/backend"
	"github.com/open-instrument/daccore/clocktree"
	"github.com/open-instrument/daccore/dmabuf"
	"github.com/open-instrument/daccore/regmap"
	"github.com/open-instrument/daccore/serialreg"
	"github.com/open-instrument/daccore/topology"
)

var (
	mock     = flag.Bool("mock", false, "use simulated hardware instead of the bridges")
	topoPath = flag.String("topology", "dac.yml", "path to the DAC topology description")
	chipAddr = flag.String("chip", "/dev/ttyUSB0", "AD9739A bridge, device file or host:port")
	coreAddr = flag.String("core", "192.168.100.40:8006", "AXI core bridge, device file or host:port")
	serialB  = flag.Bool("serial", true, "bridges are serial lines (false for TCP)")
)

func bridge(addr string) regmap.Accessor {
	b := serialreg.NewBridge(addr, *serialB, 2000)
	if err := b.Open(); err != nil {
		log.Fatalf("opening bridge %s: %v", addr, err)
	}
	return b
}

func main() {
	flag.Parse()

	node := &topology.Node{
		Name:     "dac0",
		ClockHz:  2000 * 1000 * 1000,
		Backends: []string{"axi-dac0"},
	}
	if _, err := os.Stat(*topoPath); err == nil {
		node, err = topology.Load(*topoPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	var chipAcc, coreAcc regmap.Accessor
	if *mock {
		chipAcc = ad9739a.NewSimChip()
		coreAcc = axidac.NewSim(axidac.PackVersion(9, 1, 'b'))
	} else {
		chipAcc = bridge(*chipAddr)
		coreAcc = bridge(*coreAddr)
	}

	registry := backend.NewRegistry()
	coreName, err := node.BackendRefAt(0)
	if err != nil {
		log.Fatal(err)
	}
	core, err := axidac.New(coreAcc, axidac.Config{
		Name:            coreName,
		ExpectedVersion: axidac.PackVersion(9, 1, 'b'),
		NChannels:       1,
		Pool:            dmabuf.NewPool("tx"),
	}, registry)
	if err != nil {
		log.Fatal(err)
	}
	defer core.Close()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + node.Name,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	var last string
	dac, err := ad9739a.New(chipAcc, ad9739a.Config{
		Node:     node,
		Clock:    clocktree.NewFixed(node.ClockHz),
		Registry: registry,
		OnStage: func(s string) {
			last = s
			spinner.Message(s)
		},
	})
	if err != nil {
		spinner.StopFailMessage(fmt.Sprintf("%s failed: %v", last, err))
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.Message("operational")
	spinner.Stop()
	defer dac.Close()

	fmt.Printf("%s calibrated\n", node.Name)
	fmt.Printf("  sample rate  %d Hz\n", dac.SampleRate())
	fmt.Printf("  backend      %s\n", coreName)
	fmt.Printf("  core version %d.%d.%c\n",
		axidac.VersionMajor(core.Version()),
		axidac.VersionMinor(core.Version()),
		axidac.VersionPatch(core.Version()))
	if buf := dac.Buffer(); buf != nil {
		fmt.Printf("  dma channel  %s (%v)\n", buf.Channel(), buf.Direction())
	}
}
