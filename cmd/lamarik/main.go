// Command lamarik runs a Lama bytecode image: parse, verify, interpret.
package main

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dacsson/lamarik/internal/builtin"
	"github.com/dacsson/lamarik/internal/heap"
	"github.com/dacsson/lamarik/internal/image"
	"github.com/dacsson/lamarik/internal/interp"
	"github.com/dacsson/lamarik/internal/verify"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// maxFileSize mirrors the original interpreter's 1 GiB ceiling on input
// bytecode files.
const maxFileSize = 1024 * 1024 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		lamaFile string
		dump     bool
		ceiling  int
		trace    bool
	)

	cmd := &cobra.Command{
		Use:           "lamarik",
		Short:         "Lama VM bytecode interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(runOpts{
				lamaFile: lamaFile,
				dump:     dump,
				ceiling:  ceiling,
				trace:    trace,
			})
		},
	}

	cmd.Flags().StringVarP(&lamaFile, "lama-file", "l", "", "source bytecode file")
	cmd.Flags().BoolVar(&dump, "dump-bytefile", false, "dump parsed bytefile metadata")
	cmd.Flags().IntVar(&ceiling, "max-operand-stack", verify.DefaultCeiling, "operand stack ceiling enforced by the verifier and interpreter")
	cmd.Flags().BoolVar(&trace, "trace", os.Getenv("LAMARIK_VM_TRACE") != "", "log every fetch-decode-dispatch step")
	_ = cmd.MarkFlagRequired("lama-file")

	return cmd
}

type runOpts struct {
	lamaFile string
	dump     bool
	ceiling  int
	trace    bool
}

func run(opts runOpts) error {
	logger, err := newLogger(opts.trace)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	data, err := loadFile(opts.lamaFile)
	if err != nil {
		logger.Error("load failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	img, err := image.Parse(data)
	if err != nil {
		logger.Error("parse failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if opts.dump {
		fmt.Println(img.String())
	}

	result, err := verify.Verify(img, opts.ceiling)
	if err != nil {
		logger.Error("verify failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	h := heap.New()
	dispatcher := builtin.New(os.Stdin, os.Stdout, h)
	vm := interp.New(img, result.MaxDepth, h, dispatcher, logger, opts.ceiling)

	if err := vm.Run(); err != nil {
		logger.Error("run failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func newLogger(trace bool) (*zap.Logger, error) {
	if !trace {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger, nil
}

// loadFile enforces the 1 GiB ceiling, memory-maps the bytecode file and
// returns a copy of the mapped bytes, so the verifier's in-place patching
// never writes to the mapping.
func loadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithStack(&vmerr.FileDoesNotExist{Path: path})
		}
		return nil, errors.Wrap(err, "stat")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WithStack(&vmerr.FileTypeError{Path: path})
	}
	if info.Size() >= maxFileSize {
		return nil, errors.WithStack(&vmerr.FileIsTooLarge{Size: info.Size(), Limit: maxFileSize})
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	if info.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}
	out := make([]byte, len(m))
	copy(out, m)
	if err := m.Unmap(); err != nil {
		return nil, errors.Wrap(err, "munmap")
	}
	return out, nil
}
