package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	goji "goji.io"
	yml "gopkg.in/yaml.v2"

	"github.com/open-instrument/daccore/ad9739a"
	"github.com/open-instrument/daccore/axidac"
	"github.com/open-instrument/daccore/backend"
	"github.com/open-instrument/daccore/clocktree"
	"github.com/open-instrument/daccore/dmabuf"
	"github.com/open-instrument/daccore/regmap"
	"github.com/open-instrument/daccore/serialreg"
	"github.com/open-instrument/daccore/server/middleware/locker"
	"github.com/open-instrument/daccore/topology"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dacsrv.yml"
	k              = koanf.New(".")
)

// BridgeSetup describes one serial register bridge
type BridgeSetup struct {
	// Addr is the device file or host:port of the bridge
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`
}

// Config holds the initialization parameters for the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock substitutes simulated hardware for the register bridges
	Mock bool `yaml:"Mock"`

	// Topology is the path to the DAC topology description
	Topology string `yaml:"Topology"`

	// ChipBridge carries AD9739A register transactions
	ChipBridge BridgeSetup `yaml:"ChipBridge"`

	// CoreBridge carries AXI DAC core register transactions
	CoreBridge BridgeSetup `yaml:"CoreBridge"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:       ":8000",
		Mock:       true,
		Topology:   "dac.yml",
		ChipBridge: BridgeSetup{Addr: "/dev/ttyUSB0", Serial: true},
		CoreBridge: BridgeSetup{Addr: "192.168.100.40:8006"}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadTopology(c Config) *topology.Node {
	if _, err := os.Stat(c.Topology); err == nil {
		n, err := topology.Load(c.Topology)
		if err != nil {
			log.Fatal(err)
		}
		return n
	}
	return &topology.Node{
		Name:     "dac0",
		ClockHz:  2000 * 1000 * 1000,
		Backends: []string{"axi-dac0"},
	}
}

func openBridge(s BridgeSetup) regmap.Accessor {
	b := serialreg.NewBridge(s.Addr, s.Serial, 2000)
	if err := b.Open(); err != nil {
		log.Fatalf("opening bridge %s: %v", s.Addr, err)
	}
	return b
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	node := loadTopology(c)

	var chipAcc, coreAcc regmap.Accessor
	if c.Mock {
		chipAcc = ad9739a.NewSimChip()
		coreAcc = axidac.NewSim(axidac.PackVersion(9, 1, 'b'))
	} else {
		chipAcc = openBridge(c.ChipBridge)
		coreAcc = openBridge(c.CoreBridge)
	}

	registry := backend.NewRegistry()
	pool := dmabuf.NewPool("tx")
	coreName, err := node.BackendRefAt(0)
	if err != nil {
		log.Fatal(err)
	}
	core, err := axidac.New(coreAcc, axidac.Config{
		Name:            coreName,
		ExpectedVersion: axidac.PackVersion(9, 1, 'b'),
		NChannels:       1,
		Pool:            pool,
	}, registry)
	if err != nil {
		log.Fatal(err)
	}

	dac, err := ad9739a.New(chipAcc, ad9739a.Config{
		Node:     node,
		Clock:    clocktree.NewFixed(node.ClockHz),
		Registry: registry,
	})
	if err != nil {
		core.Close()
		log.Fatal(err)
	}
	log.Printf("%s calibrated, sample rate %d Hz", node.Name, dac.SampleRate())

	httpD := ad9739a.NewHTTPWrapper("/", dac)
	lock := locker.New()
	locker.Inject(httpD, lock)
	mux := goji.NewMux()
	httpD.RouteTable.Bind(mux)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(lock.Check)
	root.Mount("/", mux)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("shutting down, releasing hardware")
		dac.Close()
		core.Close()
		os.Exit(0)
	}()

	log.Println("now listening for requests at", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, root))
}

func root() {
	str := `dacsrv exposes an AD9739A RF DAC and its AXI backend core over HTTP.

Usage:
	dacsrv <command>

Commands:
	run
	mkconf
	conf
	version`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "run":
		run()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		fmt.Printf("dacsrv version %v\n", Version)
	default:
		log.Fatal("unknown command")
	}
}
