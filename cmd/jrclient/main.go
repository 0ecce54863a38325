// Command jrclient loads {host, port}, dials the server, and issues one
// RPC call named on the command line, printing the JSON result (or
// error) to stdout. One short-lived connection per invocation.
package main

import (
	"fmt"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
	flag "github.com/spf13/pflag"

	"github.com/B777B2056/jrNetWork/internal/config"
	"github.com/B777B2056/jrNetWork/internal/rpcclient"
)

const dialTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	fs := config.ClientFlagSet()
	fs.String("config", "", "path to a YAML config file layered above defaults and under CLI flags")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: jrclient [flags] <method> [json-param ...]")
		return 1
	}
	method := args[0]

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadClient(configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	params := make([]interface{}, 0, len(args)-1)
	for _, raw := range args[1:] {
		params = append(params, gojson.RawMessage(raw))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c, err := rpcclient.Dial(addr, dialTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		return 1
	}
	defer c.Close()

	value, err := c.Call(method, params...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "call failed:", err)
		return 1
	}
	fmt.Println(string(value))
	return 0
}
