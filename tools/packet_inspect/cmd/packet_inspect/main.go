package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	packetinspect "rigidsync/broker/tools/packet_inspect"
)

func main() {
	path := flag.String("path", "", "archive directory or packet file (.json, .json.zst, .json.gz)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	report, err := packetinspect.Inspect(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
	if !report.Consistent() {
		os.Exit(4)
	}
}
