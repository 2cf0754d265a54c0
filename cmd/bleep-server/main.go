package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/cmd"
	"github.com/bleepsynth/bleep/rpc"
	"github.com/bleepsynth/bleep/version"
)

func main() {
	address := flag.String("a", rpc.DefaultAddress, "Address to listen on.")
	debug := flag.Bool("debug", false, "Log debug messages.")
	help := flag.Bool("h", false, "Show help.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	logger := cmd.NewLogger(*debug)
	server, err := rpc.Listen(*address, clock.Real{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not start the server: %v\n", err)
		os.Exit(1)
	}
	logger.Info("time authority and event relay listening", "address", server.Addr().String())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	server.Close()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Bleep session server. Answers clock sync pings and relays the audio events of jam sessions.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
