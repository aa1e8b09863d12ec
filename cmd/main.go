package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"vdisk/pkg/engine"
)

const defaultConfigPath = "vdisk.config.yaml"

func printRootHelp() {
	fmt.Println(`vdisk - virtual disks inside a single storage pool, with compressed files and a read cache

Usage:
  vdisk <command> [arguments] [options]

Available Commands:
  init          Write a default config and create the storage pool
  create_disk   Assign part of the pool to a new virtual disk
  write_file    Compress a file into a virtual disk
  read_file     Recover a file from a virtual disk
  delete_file   Remove a file from a virtual disk
  list_files    List the files of a virtual disk
  list_disks    Show how the pool is divided
  help          Show help for a command

Run 'vdisk help <command>' for details on a specific command.`)
}

var commandHelp = map[string]string{
	"init": `Usage:
  vdisk init [--config <path>]

Writes a default config if none exists, then creates the zero-filled pool it names.

Options:
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"create_disk": `Usage:
  vdisk create_disk <meta_file> <size> [--name <disk>] [--config <path>]

<size> is a byte count such as 419430400 or 400MiB. The disk name is taken
from a meta file called vdisk_<name>.meta unless --name is given.

Options:
  --name     Disk name
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"write_file": `Usage:
  vdisk write_file <meta_file> <file> [--config <path>]

Stores <file> under its base name with whitespace removed, replacing a file of the same name.

Options:
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"read_file": `Usage:
  vdisk read_file <meta_file> <file> [--out <path>] [--config <path>]

Options:
  --out      Where to write the recovered file (default: ./recovered_<file>)
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"delete_file": `Usage:
  vdisk delete_file <meta_file> <file> [--config <path>]

Options:
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"list_files": `Usage:
  vdisk list_files <meta_file> [--config <path>]

Options:
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
	"list_disks": `Usage:
  vdisk list_disks [--config <path>]

Options:
  --config   Path to vdisk config YAML file (default: ./vdisk.config.yaml)`,
}

func main() {
	if len(os.Args) < 2 {
		printRootHelp()
		os.Exit(exitUsage)
	}

	command := os.Args[1]
	switch command {

	case "help":
		if len(os.Args) == 2 {
			printRootHelp()
			return
		}
		help, ok := commandHelp[os.Args[2]]
		if !ok {
			fmt.Printf("Unknown help topic: %s\n", os.Args[2])
			printRootHelp()
			os.Exit(exitUsage)
		}
		fmt.Println(help)
		return

	case "init":
		cmd := flag.NewFlagSet(command, flag.ContinueOnError)
		configPath := cmd.String("config", defaultConfigPath, "Path to configuration YAML file")
		args := mustParse(cmd, os.Args[2:], 0)

		absPath := mustAbs(*configPath)
		os.Exit(runInit(absPath, args))

	case "create_disk", "write_file", "read_file", "delete_file", "list_files", "list_disks":
		cmd := flag.NewFlagSet(command, flag.ContinueOnError)
		configPath := cmd.String("config", defaultConfigPath, "Path to configuration YAML file")
		name := cmd.String("name", "", "Disk name (create_disk)")
		out := cmd.String("out", "", "Output path (read_file)")
		args := mustParse(cmd, os.Args[2:], expectedArgs[command])

		absPath := mustAbs(*configPath)
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file not found: %s (run 'vdisk init' first)\n", absPath)
			os.Exit(exitUsage)
		}

		storage, err := engine.InstantiateStorageEngine(absPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open the storage described by %s: %v\n", absPath, err)
			os.Exit(exitCode(err))
		}

		code := run(storage, command, args, options{name: *name, out: *out})
		if err := storage.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to shut down cleanly: %v\n", err)
			if code == exitOK {
				code = exitCode(err)
			}
		}
		os.Exit(code)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printRootHelp()
		os.Exit(exitUsage)
	}
}

func mustParse(cmd *flag.FlagSet, args []string, want int) []string {
	positional, err := parseInterspersed(cmd, args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Println(commandHelp[cmd.Name()])
		os.Exit(exitOK)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(exitUsage)
	}
	if len(positional) != want {
		fmt.Fprintf(os.Stderr, "%s expects %d arguments, got %d\n\n", cmd.Name(), want, len(positional))
		fmt.Println(commandHelp[cmd.Name()])
		os.Exit(exitUsage)
	}
	return positional
}

func mustAbs(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to resolve config path: %v\n", err)
		os.Exit(exitUsage)
	}
	return absPath
}
