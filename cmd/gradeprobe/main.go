// Command gradeprobe inspects and grades compiled Java submissions.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/gradeprobe/internal/config"
)

// errFailed is returned by commands that already reported a failure.
var errFailed = errors.New("probe failure reported")

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath    string
	classPath     string
	callerPackage string
	verbose       bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "gradeprobe",
		Short: "Inspect and grade compiled Java submissions",
		Long: `gradeprobe loads the classes of a submission into a bytecode interpreter
and checks them the way an autograder does: resolve a class, construct it,
read its fields and call its methods. Every failure is reported as a
message a student can act on.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultFile, "configuration file")
	flags.StringVar(&a.classPath, "classpath", "", "directories and jars to load submission classes from")
	flags.StringVar(&a.callerPackage, "caller-package", "", "package whose package-private members are accessible")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.runCmd(),
		a.resolveCmd(),
		a.newCmd(),
		a.fieldCmd(),
		a.callCmd(),
		a.gradeCmd(),
	)
	return root
}

// setup loads the configuration and lets flags override it.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.classPath != "" {
		cfg.ClassPath = a.classPath
	}
	if a.callerPackage != "" {
		cfg.CallerPackage = a.callerPackage
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cfg.NewLogger(a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
