package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/nasa-jpl/nirquest/acquisition"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func root() {
	str := `nirquest takes spectra from an Ocean Optics NIRQuest (or USB2000+/USB4000) spectrometer

Usage:
	nirquest <command> [flags]

Commands:
	acquire     one averaged, corrected spectrum
	dark        capture a dark spectrum
	reference   capture a reference spectrum
	info        print the model and serial number
	version

Spectra are written as CSV to stdout, or to -o file.csv / file.fits.
Dark and reference files written by this program are read back with
	nirquest acquire -dark dark.csv -reference white.csv

Run nirquest <command> -h for the flags of a command.`
	fmt.Println(str)
}

func main() {
	if len(os.Args) == 1 {
		root()
		return
	}
	var (
		cmd  = strings.ToLower(os.Args[1])
		args = os.Args[2:]
		err  error
	)
	switch cmd {
	case "acquire":
		err = Acquire(args, os.Stdout, os.Stderr)
	case "dark":
		err = capture("dark", acquisition.DefaultDarkScans, args, os.Stdout, os.Stderr)
	case "reference":
		err = capture("reference", acquisition.DefaultReferenceScans, args, os.Stdout, os.Stderr)
	case "info":
		err = Info(args, os.Stdout, os.Stderr)
	case "version":
		fmt.Printf("nirquest version %v\n", Version)
	case "help", "-h", "--help":
		root()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
