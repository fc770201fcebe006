package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "gbsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconf() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `gbsrv controls a gooseberry charge-locking chip through a DAC rack and
exposes an HTTP interface to it.

Usage:
	gbsrv <command>

Commands:
	run
	powerup
	powerdown
	readback
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `gbsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Use mkconf to write the defaults to gbsrv.yml, then edit it.

Rack.Transport is one of tcp, serial, usb, mock.  mock runs against an
in-memory rack and touches no hardware.

Gates lists the gate handles served under <Endpoint>/gate/<Name>/voltage.
A gate with more than one id is a cluster switched as a unit.  Settling of 0
uses Chip.SettlingDelay.

Commands:
- run        serve HTTP on Addr; with PowerUpOnStart the chip is brought up first
- powerup    raise the rails, reset and initialize the registers, then exit
- powerdown  drive every line and rail to 0V, then exit
- readback   print the voltage of every rail and line`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
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
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("gbsrv version %v\n", Version)
}

func run() {
	c := loadconf()
	sys, err := Build(c)
	if err != nil {
		log.Fatal(err)
	}
	if c.PowerUpOnStart {
		if err = withSpinner("powering up", sys.bringUp); err != nil {
			log.Fatal(err)
		}
	}
	mux := BuildMux(c, sys)
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(srv.ListenAndServe())
}

func powerup() {
	sys, err := Build(loadconf())
	if err != nil {
		log.Fatal(err)
	}
	if err = withSpinner("powering up", sys.bringUp); err != nil {
		log.Fatal(err)
	}
}

func powerdown() {
	sys, err := Build(loadconf())
	if err != nil {
		log.Fatal(err)
	}
	if err = withSpinner("powering down", sys.GB.PowerDown); err != nil {
		log.Fatal(err)
	}
}

func readback() {
	sys, err := Build(loadconf())
	if err != nil {
		log.Fatal(err)
	}
	m, err := sys.Rack.Readback()
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(m)
	if err != nil {
		log.Fatal(err)
	}
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
	case "powerup":
		powerup()
		return
	case "powerdown":
		powerdown()
		return
	case "readback":
		readback()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
