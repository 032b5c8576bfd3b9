package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealet/gvm/asm"
)

// NewCompileCommand builds the `compile` subcommand: source file in,
// `<basename>.mvm` binary image out. release is spelled --release or its
// shorthand -d, mirroring the CLI grammar in the design.
func NewCompileCommand() *cobra.Command {
	var release bool

	c := &cobra.Command{
		Use:   "compile <ASM>",
		Short: "assemble a .asm source file into a .mvm program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runCompile(args[0], release)
		},
	}
	c.Flags().BoolVarP(&release, "release", "d", false, "strip debug-only opcodes from the generated image")
	return c
}

func runCompile(path string, release bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	lexer := asm.NewLexer(source)
	tokens, diags := lexer.Lex()
	if diags.HasErrors() {
		return errors.New(renderDiagnostics(path, source, diags))
	}

	parser := asm.NewParser(tokens)
	ast, diags := parser.Parse()
	if diags.HasErrors() {
		return errors.New(renderDiagnostics(path, source, diags))
	}

	analyzer := asm.NewAnalyzer()
	if _, diags := analyzer.Analyze(ast); diags.HasErrors() {
		return errors.New(renderDiagnostics(path, source, diags))
	}

	codegen := asm.NewCodegen(release)
	program, err := codegen.Compile(ast)
	if err != nil {
		return errors.Wrap(err, "code generation")
	}

	out := outputPath(path)
	if err := os.WriteFile(out, program, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", out)
	}

	log.Info("compiled program",
		zap.String("source", path),
		zap.String("output", out),
		zap.Int("bytes", len(program)),
		zap.Bool("release", release),
	)
	return nil
}

// outputPath swaps the source extension for .mvm, matching the CLI
// contract `<basename>.mvm`.
func outputPath(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(filepath.Dir(path), base+".mvm")
}
