// hsdbtool inspects and maintains historical storage directories.
//
// Usage:
//
//	hsdbtool inspect <file.va>           dump header and records of a shard
//	hsdbtool list -root DIR [-config ID] list discovered shards
//	hsdbtool export -root DIR -config ID [-archive DIR] archive a configuration
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/archive"
	"github.com/xtxerr/hsdb/internal/storage/backend/file"
	"github.com/xtxerr/hsdb/internal/storage/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logging.Init(slog.LevelWarn, false)

	var err error
	switch os.Args[1] {
	case "inspect":
		err = runInspect(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "version":
		fmt.Println("hsdbtool", Version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "hsdbtool:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hsdbtool <inspect|list|export|version> [flags]")
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	records := fs.Bool("records", true, "dump records")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect expects exactly one file")
	}
	path := fs.Arg(0)

	be, err := file.New(path, false)
	if err != nil {
		return err
	}
	if err := be.Initialize(nil); err != nil {
		return err
	}
	defer be.Deinitialize()

	meta, err := be.Metadata()
	if err != nil {
		return err
	}
	fmt.Printf("file:       %s\n", path)
	fmt.Printf("channel:    %s\n", meta)
	fmt.Printf("dataType:   %s\n", meta.DataType)
	fmt.Printf("retention:  %d ms\n", meta.ProposedDataAge)
	fmt.Printf("timeDelta:  %d ms\n", meta.AcceptedTimeDelta)

	if !*records {
		return nil
	}
	values, err := be.GetValues(meta.StartTime, meta.EndTime)
	if err != nil {
		return err
	}
	fmt.Printf("records:    %d\n", len(values))
	for _, v := range values {
		fmt.Printf("  %s\n", v)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	root := fs.String("root", "data", "storage root directory")
	configID := fs.String("config", "", "configuration id (all when empty)")
	merge := fs.Bool("merge", false, "merge spans per channel")
	fs.Parse(args)

	factory := file.NewFactory(*root, -1)
	metas, err := factory.GetExistingBackEndsMetaData(*configID, *merge)
	if err != nil {
		return err
	}
	for _, meta := range metas {
		fmt.Println(meta)
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	root := fs.String("root", "data", "storage root directory")
	configID := fs.String("config", "", "configuration id")
	archiveDir := fs.String("archive", "", "archive directory (default {root}/archive)")
	compression := fs.String("compression", "zstd", "parquet compression")
	fs.Parse(args)
	if *configID == "" {
		return fmt.Errorf("export requires -config")
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = *root
	dir := *archiveDir
	if dir == "" {
		dir = cfg.ArchiveDir()
	}

	factory := file.NewFactory(*root, -1)
	metas, err := factory.GetExistingBackEndsMetaData(*configID, true)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		return fmt.Errorf("no shards found for '%s'", *configID)
	}

	writer := archive.NewWriter(dir, archive.Options{Compression: *compression, Workers: cfg.Archive.Workers})
	total := 0
	for _, meta := range metas {
		backEnds, err := factory.GetExistingBackEnds(meta.ConfigurationID, meta.DetailLevelID, meta.Method)
		if err != nil {
			return err
		}
		for _, be := range backEnds {
			if err := be.Initialize(nil); err != nil {
				continue
			}
			n, err := writer.ExportChannel(be, meta.StartTime, meta.EndTime)
			be.Deinitialize()
			if err != nil {
				return err
			}
			total += n
		}
	}
	fmt.Printf("archived %d samples to %s\n", total, dir)
	return nil
}
