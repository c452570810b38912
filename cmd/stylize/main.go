// Package main provides the style transfer CLI.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args, stdout, stderr)
	case "layers":
		err = layersCommand(stdout)
	case "inspect":
		err = inspectCommand(args, stdout)
	case "init-config":
		err = initConfigCommand(args, stdout)
	case "version":
		fmt.Fprintf(stdout, "stylize %s\n", version)
	case "help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Neural style transfer")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Usage: stylize [command] [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Render an image (default; see run -h)")
	fmt.Fprintln(w, "  layers       List layers usable as content or style layers")
	fmt.Fprintln(w, "  inspect      List the tensors of a SafeTensors weights file")
	fmt.Fprintln(w, "  init-config  Write the default job configuration as YAML")
	fmt.Fprintln(w, "  version      Show version")
}
