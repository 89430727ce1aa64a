package main

import (
	"fmt"
	"os"

	"github.com/joyfulsong/elisp-extractor/pkg/extraction"
	"github.com/joyfulsong/elisp-extractor/pkg/trace"
)

type cliOptions struct {
	configPath string
	outputPath string
}

func parseCLIOptions(args []string) (cliOptions, error) {
	opts := cliOptions{configPath: "extraction.yaml"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--config requires a path")
			}
			opts.configPath = args[i]
		case "--output":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--output requires a path")
			}
			opts.outputPath = args[i]
		default:
			return opts, fmt.Errorf("unexpected argument %q", args[i])
		}
	}
	return opts, nil
}

func runExtract(args []string) int {
	opts, err := parseCLIOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := extraction.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	result, err := extraction.Run(cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	out := os.Stdout
	if opts.outputPath != "" {
		f, err := os.Create(opts.outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", opts.outputPath, err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := trace.WriteReport(out, result); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		return 1
	}
	return 0
}

func runCatalog(args []string) int {
	opts, err := parseCLIOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if opts.outputPath != "" {
		fmt.Fprintln(os.Stderr, "catalog does not take --output")
		return 1
	}

	cfg, err := extraction.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cat, err := extraction.BuildCatalog(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "symbols: %d\n", len(cat.Symbols))
	fmt.Fprintf(os.Stdout, "constants: %d\n", len(cat.Constants))
	fmt.Fprintf(os.Stdout, "declared variables: %d\n", len(cat.LispVariables))
	fmt.Fprintf(os.Stdout, "raw globals: %d\n", len(cat.CVariables))
	fmt.Fprintf(os.Stdout, "subroutines: %d\n", len(cat.Subroutines))
	for _, unit := range cat.Units {
		fmt.Fprintf(os.Stdout, "  %s: %d variables, %d constants, %d subroutines\n",
			unit.File, len(unit.LispVariables), len(unit.Constants), len(unit.Subroutines))
	}
	return 0
}
