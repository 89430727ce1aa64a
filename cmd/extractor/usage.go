package main

import (
	"fmt"
	"os"
)

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  extractor extract [--config extraction.yaml] [--output report.json]")
	fmt.Fprintln(os.Stderr, "  extractor catalog [--config extraction.yaml]")
	fmt.Fprintln(os.Stderr, "  extractor version")
}
