package extraction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joyfulsong/elisp-extractor/pkg/peval"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extraction.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
source:
  repository: https://git.savannah.gnu.org/git/emacs.git
  revision: emacs-29.1
  directory: /tmp/emacs-src
files:
  - data.c
  - alloc.c
preprocessor:
  command: gcc
  prelude: "#define HAVE_PDUMPER 0"
extra-macros: "#define EXTRA 1"
constants:
  extra:
    INTPTR_MAX: 9223372036854775807
  ignored:
    - GNUC_PREREQ
functions:
  recognized:
    - block_input
  skipped:
    - init_bignum_once
context-scopes:
  - open: block_input
    close: unblock_input
eliminate-locals: true
routines:
  syms_of_data:
    replaces:
      - match: "^Vdropped = .*$"
      - match: "^Vold = legacy\\((.*)\\)$"
        with: "Vold = modern($1)"
    values:
      initialized: false
      threshold: 3
      label: scratch
  init_casetab:
    skip: true
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source.Repository == "" || cfg.Source.Revision != "emacs-29.1" {
		t.Fatalf("source = %+v", cfg.Source)
	}
	if len(cfg.Files) != 2 || cfg.Files[1] != "alloc.c" {
		t.Fatalf("files = %v", cfg.Files)
	}
	if cfg.MainFile != "emacs.c" || cfg.GlobalsFile != "globals.h" {
		t.Fatalf("defaults not applied: %q %q", cfg.MainFile, cfg.GlobalsFile)
	}
	if cfg.Preprocessor.Command != "gcc" {
		t.Fatalf("preprocessor = %+v", cfg.Preprocessor)
	}
	if !strings.Contains(cfg.Preprocessor.Prelude, "HAVE_PDUMPER") ||
		!strings.Contains(cfg.Preprocessor.Prelude, "#define EXTRA 1") {
		t.Fatalf("prelude = %q", cfg.Preprocessor.Prelude)
	}
	if cfg.ExtraConstants["INTPTR_MAX"] != 9223372036854775807 {
		t.Fatalf("extra constants = %v", cfg.ExtraConstants)
	}
	if len(cfg.IgnoredConstants) != 1 || len(cfg.RecognizedCFunctions) != 1 {
		t.Fatalf("constants/functions = %v %v", cfg.IgnoredConstants, cfg.RecognizedCFunctions)
	}
	if len(cfg.SkippedRoutines) != 1 || cfg.SkippedRoutines[0] != "init_bignum_once" {
		t.Fatalf("skipped = %v", cfg.SkippedRoutines)
	}
	if len(cfg.ContextScopes) != 1 || cfg.ContextScopes[0].Close != "unblock_input" {
		t.Fatalf("context scopes = %v", cfg.ContextScopes)
	}
	if !cfg.EliminateLocals {
		t.Fatalf("eliminate-locals not set")
	}

	data := cfg.Routines["syms_of_data"]
	if len(data.Rules) != 2 {
		t.Fatalf("rules = %v", data.Rules)
	}
	if b, ok := data.Values["initialized"].(*peval.BoolValue); !ok || b.Value {
		t.Fatalf("initialized = %v", data.Values["initialized"])
	}
	if n, ok := data.Values["threshold"].(*peval.IntValue); !ok || n.Value != 3 {
		t.Fatalf("threshold = %v", data.Values["threshold"])
	}
	if s, ok := data.Values["label"].(*peval.StringValue); !ok || s.Value != "scratch" {
		t.Fatalf("label = %v", data.Values["label"])
	}
	if !cfg.Routines["init_casetab"].Skip {
		t.Fatalf("init_casetab not marked skip")
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
files:
  - data.c
bogus-knob: 1
`))
	if err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestLoadConfigRequiresFiles(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
main-file: emacs.c
`))
	if err == nil || !strings.Contains(err.Error(), "no source files") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigRejectsHalfScope(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
files:
  - data.c
context-scopes:
  - open: block_input
`))
	if err == nil || !strings.Contains(err.Error(), "open and close") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigRejectsBadRule(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
files:
  - data.c
routines:
  syms_of_data:
    replaces:
      - match: "(["
`))
	if err == nil {
		t.Fatalf("bad pattern accepted")
	}
}
