package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagListenPort int
	flagConnect    string
	flagBind       string
	flagHelp       bool
	flagVersion    bool
)

func init() {
	flag.IntVarP(&flagListenPort, "listen", "l", 8000, "HTTP port to run the signaling server on (offerer mode)")
	flag.StringVarP(&flagConnect, "connect", "c", "", "Signaling server URL to dial instead of listening (answerer mode), e.g. ws://host:8000/ws")
	flag.StringVarP(&flagBind, "bind", "b", ":0", "Local UDP address to bind the host candidate to")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `ICE session + RUDP channel demo endpoint

Usage: icesessiond [OPTION]...

Run one copy with no arguments (or -l) to listen for a peer; run a second
copy with -c pointing at the first copy's signaling address. Whichever side
listens drives nomination (ICE controlling role); the side that connects
follows (ICE controlled role). Once nominated, the two sides open one RUDP
channel and echo whatever is typed on stdin.

Signaling:
  -l, --listen=PORT      HTTP port for the signaling server (default: 8000)
  -c, --connect=URL      Signaling server to dial instead of listening

Network:
  -b, --bind=ADDR        Local UDP bind address for the host candidate (default: :0)

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits`

func help() {
	b := color.New(color.FgCyan)
	y := color.New(color.FgYellow)

	b.Print("ice")
	y.Print("session")
	b.Println("d")

	fmt.Println(helpString)
}

func version() {
	fmt.Println("icesessiond (development build)")
}
