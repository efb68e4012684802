package main

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "twisterbench.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Calibration: CalibrationSetup{
			Source:     "FUNCtion1",
			Step:       math.Pi / 8,
			Oscillator: 1,
		},
		Capture: CaptureSetup{Channels: []int{1}},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `twisterbench drives the TWISTER link test bench: a DSOV254A scope,
two E8257D local oscillators, and an M8195A waveform generator.
The outputs are interlocked so drive power never comes up before the
local oscillators.

Usage:
	twisterbench <command>

Commands:
	run
	calibrate
	capture
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `twisterbench is amenable to configuration via its .yaml file.  For a
primer on YAML, see https://yaml.org/start.html

Instrument addresses are host:port for LAN connections, or usb:VID:PID
(hex) for the scope's USB port, e.g. usb:2a8d:9045.

Commands:
- run        serve the HTTP control surface at Addr
- calibrate  peak the receive amplitude by steering an LO's phase
- capture    record the configured scope channels as CSV
- mkconf     write a default config file to ` + ConfigFileName + `
- conf       print the effective configuration
- version    print the version`
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

func pversion() {
	fmt.Printf("twisterbench version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	ins, err := BuildBench(c)
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(ins)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

// spinner makes a terminal spinner with a message suffix
func spinner(suffix string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            " " + suffix,
		SuffixAutoColon:   true,
		StopCharacter:     "OK",
		StopFailCharacter: "FAIL",
	})
}

func calibrate() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	ins, err := BuildBench(c)
	if err != nil {
		log.Fatal(err)
	}
	spin, err := spinner("aligning phase")
	if err != nil {
		log.Fatal(err)
	}
	spin.Start()
	var corrective float64
	err = ins.Bench.EnableOutputs(func() error {
		spin.Message(fmt.Sprintf("steering oscillator %d", c.Calibration.Oscillator))
		var ierr error
		corrective, ierr = ins.Bench.AlignPhase(c.Calibration.Oscillator)
		return ierr
	})
	if err != nil {
		spin.StopFail()
		log.Fatal(err)
	}
	spin.Stop()
	fmt.Printf("corrective phase offset: %.6f rad (%.3f deg)\n",
		corrective, corrective*180/math.Pi)
}

func capture() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	ins, err := BuildBench(c)
	if err != nil {
		log.Fatal(err)
	}
	spin, err := spinner("capturing waveform")
	if err != nil {
		log.Fatal(err)
	}
	spin.Start()
	wav, err := ins.Scope.AcquireWaveform(c.Capture.Channels)
	if err != nil {
		spin.StopFail()
		log.Fatal(err)
	}
	out := os.Stdout
	if c.Capture.File != "" {
		out, err = os.Create(c.Capture.File)
		if err != nil {
			spin.StopFail()
			log.Fatal(err)
		}
		defer out.Close()
	}
	err = wav.EncodeCSV(out)
	if err != nil {
		spin.StopFail()
		log.Fatal(err)
	}
	spin.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "calibrate":
		calibrate()
		return
	case "capture":
		capture()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
