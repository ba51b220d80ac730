package main

import (
	"flag"
	"fmt"
	"os"

	"rigidsync/broker/internal/replay"
	replaycatalog "rigidsync/broker/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay archives")
	scene := flag.String("scene", "", "only list archives of this scene")
	backend := flag.String("backend", "", "only list archives recorded on this backend")
	mode := flag.String("mode", "", "only list archives in this validation mode (STRICT or BEHAVIOURAL)")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	query := replaycatalog.Query{Scene: *scene, Backend: *backend}
	if *mode != "" {
		parsed, err := replay.ParseMode(*mode)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		query.Mode = parsed
	}
	entries, err := replaycatalog.Search(*root, query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		h := entry.Header
		fmt.Printf("%s (schema %d)\n", entry.ArchiveDir, h.SchemaVersion)
		fmt.Printf("  scene: %s  backend: %s  profile: %s  mode: %s\n", h.Scene, h.Backend, h.Profile, h.Mode)
		fmt.Printf("  seed: %d  last step: %d  ops: %d  checkpoints: %d\n", h.Seed, h.LastStep, h.Ops, h.Checkpoints)
		if h.PacketSHA256 != "" {
			fmt.Printf("  sha256: %s\n", h.PacketSHA256)
		}
	}
}
