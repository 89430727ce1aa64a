package cparse

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

var (
	includePattern   = regexp.MustCompile(`(?m)^\s*#include "(.*)"`)
	ifZeroPattern    = regexp.MustCompile(`(?ms)^\s*#\s*if\s+0$.+?#\s*endif$`)
	preprocErrorLine = regexp.MustCompile(`#\s*error\s+`)
	directiveLine    = regexp.MustCompile(`(?m)^#.*$`)
)

// StripIncludes blanks every #include directive so the remaining byte
// offsets stay stable for the parser.
func StripIncludes(p *Parser, source string) (string, error) {
	encoded := []byte(source)
	tree, err := p.Parse(encoded)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	blanked := []byte(source)
	Walk(tree.RootNode(), func(node *sitter.Node) bool {
		if node.Kind() != "preproc_include" {
			return true
		}
		for i := node.StartByte(); i < node.EndByte(); i++ {
			blanked[i] = ' '
		}
		return false
	})
	return includePattern.ReplaceAllString(string(blanked), ""), nil
}

// StripIfZero removes #if 0 ... #endif regions before parsing.
func StripIfZero(source string) string {
	return ifZeroPattern.ReplaceAllString(source, "")
}

// Preprocessor expands macros in a source unit before extraction. When
// Command is empty no external tool runs and only directive lines are
// stripped, which suffices for macro-free test inputs.
type Preprocessor struct {
	parser *Parser

	// Command and Args name the external preprocessor, e.g. gcc -E.
	Command string
	Args    []string

	// Prelude is prepended to every unit, typically operator-supplied
	// #define lines for platform knobs.
	Prelude string
}

// NewPreprocessor returns a preprocessor running gcc -E with the given
// prelude. Pass command "" to disable the external pass.
func NewPreprocessor(parser *Parser, command, prelude string) *Preprocessor {
	args := []string{}
	if command == "gcc" || command == "cc" {
		args = []string{"-E", "-C", "-Wp,-dD", "-"}
	}
	return &Preprocessor{
		parser:  parser,
		Command: command,
		Args:    args,
		Prelude: prelude,
	}
}

// Expand strips includes, neuters #error directives, runs the external
// preprocessor when configured, and drops surviving directive lines.
// unitTag names the file being processed and is exposed to the prelude as
// an EXTRACTING_<TAG> define.
func (pp *Preprocessor) Expand(source, unitTag string) (string, error) {
	stripped, err := StripIncludes(pp.parser, source)
	if err != nil {
		return "", fmt.Errorf("cparse: strip includes for %s: %w", unitTag, err)
	}
	stripped = preprocErrorLine.ReplaceAllString(stripped, "// ")

	tag := strings.ToUpper(nonWordPattern.ReplaceAllString(unitTag, "_"))
	input := fmt.Sprintf("#define EXTRACTING_%s\n%s\n%s", tag, pp.Prelude, stripped)

	if pp.Command == "" {
		return directiveLine.ReplaceAllString(input, ""), nil
	}

	cmd := exec.Command(pp.Command, pp.Args...)
	cmd.Stdin = strings.NewReader(input)
	var out bytes.Buffer
	var errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cparse: %s on %s: %w: %s", pp.Command, unitTag, err, errOut.String())
	}
	return directiveLine.ReplaceAllString(out.String(), ""), nil
}

var nonWordPattern = regexp.MustCompile(`\W`)
