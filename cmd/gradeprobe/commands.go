package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/gradeprobe/pkg/grading"
	"github.com/daimatz/gradeprobe/pkg/probe"
	"github.com/daimatz/gradeprobe/pkg/probe/jvmrt"
	"github.com/daimatz/gradeprobe/pkg/report"
	"github.com/daimatz/gradeprobe/pkg/vm"
)

// newMachine creates a VM over the configured classpath. JDK classes the
// interpreter does not provide come from the jmod, if one is configured.
func (a *app) newMachine(stdout io.Writer) *vm.VM {
	var parent vm.ClassLoader
	if a.cfg.Jmod != "" {
		parent = vm.NewArchiveClassLoader(a.cfg.Jmod)
	}
	machine := vm.NewVM(vm.NewUserClassLoader(a.cfg.ClassPath, parent))
	machine.Stdout = stdout
	machine.Logger = a.logger
	machine.MaxFrameDepth = a.cfg.MaxFrameDepth
	return machine
}

func (a *app) newProbe(stdout io.Writer) *probe.Probe {
	rt := jvmrt.New(a.newMachine(stdout),
		jvmrt.WithCallerPackage(a.cfg.CallerPackage),
		jvmrt.WithDeniedPackages(a.cfg.DeniedPackages...),
		jvmrt.WithLogger(a.logger))
	return probe.New(rt, probe.WithLogger(a.logger))
}

// check returns a Checker that prints failures, and a function that
// reports whether any failure was printed.
func (a *app) check(cmd *cobra.Command, op string) (*probe.Checker, func() bool) {
	out := newPrinter(cmd.OutOrStdout())
	failed := false
	sink := probe.SinkFunc(func(message string) {
		failed = true
		out.fail(op, message)
	})
	return a.newProbe(cmd.OutOrStdout()).Report(sink), func() bool { return failed }
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <class>",
		Short: "Execute the main method of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ReplaceAll(args[0], ".", "/")
			if err := a.newMachine(cmd.OutOrStdout()).Execute(name); err != nil {
				return fmt.Errorf("executing %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <class>",
		Short: "Look up a class by its qualified name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, failed := a.check(cmd, "resolve")
			t := c.ResolveType(args[0])
			if failed() {
				return errFailed
			}
			newPrinter(cmd.OutOrStdout()).pass("resolve", t.Name())
			return nil
		},
	}
}

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <class> [args...]",
		Short: "Construct an instance with the constructor matching the arguments",
		Long: `Construct an instance of a class. Arguments are literals: integers,
decimals, true or false, null, or strings (optionally double quoted).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, failed := a.check(cmd, "new")
			c.Instantiate(args[0], parseLiterals(args[1:])...)
			if failed() {
				return errFailed
			}
			newPrinter(cmd.OutOrStdout()).pass("new", args[0])
			return nil
		},
	}
}

func (a *app) fieldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "field <class> <name> [ctor args...]",
		Short: "Construct an instance and read one of its declared fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, failed := a.check(cmd, "field")
			obj := c.Instantiate(args[0], parseLiterals(args[2:])...)
			if failed() {
				return errFailed
			}
			v := c.ReadField(obj, args[1])
			if failed() {
				return errFailed
			}
			newPrinter(cmd.OutOrStdout()).pass("field", args[1]+" = "+formatValue(v))
			return nil
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	var ctorArgs []string
	cmd := &cobra.Command{
		Use:   "call <class> <method> [args...]",
		Short: "Construct an instance and call a public method on it",
		Long: `Construct an instance with the constructor matching --new and call the
public method whose parameter types match the arguments.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, failed := a.check(cmd, "call")
			obj := c.Instantiate(args[0], parseLiterals(ctorArgs)...)
			if failed() {
				return errFailed
			}
			v := c.InvokeByName(obj, args[1], parseLiterals(args[2:])...)
			if failed() {
				return errFailed
			}
			newPrinter(cmd.OutOrStdout()).pass("call", args[1]+" = "+formatValue(v))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ctorArgs, "new", nil, "constructor arguments, comma separated")
	return cmd
}

func (a *app) gradeCmd() *cobra.Command {
	var (
		publish bool
		format  string
		output  string
		jobs    int
	)
	cmd := &cobra.Command{
		Use:   "grade <plan.yaml>...",
		Short: "Run grading plans and score the submission",
		Long: `Run grading plans and score the submission. Plans run concurrently,
each on its own VM, and are reported in the order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobs < 1 {
				return fmt.Errorf("--jobs must be at least 1")
			}
			if output != "" && len(args) > 1 {
				return fmt.Errorf("--output needs exactly one plan, got %d", len(args))
			}
			plans := make([]*grading.Plan, len(args))
			for i, path := range args {
				plan, err := grading.LoadPlan(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				plans[i] = plan
			}

			reports := make([]*report.Report, len(plans))
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.SetLimit(jobs)
			for i, plan := range plans {
				eg.Go(func() error {
					runner := grading.NewRunner(a.newProbe(io.Discard), grading.WithLogger(a.logger))
					rep, err := runner.Run(ctx, plan)
					if err != nil {
						return err
					}
					reports[i] = rep
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout())
			passed := true
			for _, rep := range reports {
				if len(reports) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "exercise: %s\n", rep.Exercise)
				}
				for _, res := range rep.Results {
					if res.Passed {
						out.pass(res.Check, "")
					} else {
						out.fail(res.Check, res.Message)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "score: %g/%g\n", rep.Score, rep.MaxScore)
				passed = passed && rep.Passed()
			}

			if format == "" {
				format = a.cfg.Report.Format
			}
			if output != "" {
				if err := writeReport(output, reports[0], format); err != nil {
					return err
				}
			}
			if publish {
				for _, rep := range reports {
					if err := a.publish(cmd, rep); err != nil {
						return err
					}
				}
			}
			if !passed {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "post the reports to report.url")
	cmd.Flags().StringVar(&format, "format", "", "report format: json or yaml (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to this file")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "plans to run at once")
	return cmd
}

func writeReport(path string, rep *report.Report, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.Write(f, rep, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *app) publish(cmd *cobra.Command, rep *report.Report) error {
	rc := a.cfg.Report
	if rc.URL == "" {
		return fmt.Errorf("--publish needs report.url in the configuration")
	}
	tlsCfg, err := report.LoadTLSConfig(rc.Cert, rc.Key, rc.CA)
	if err != nil {
		return err
	}
	p := report.NewPublisher(rc.URL,
		report.WithTLSConfig(tlsCfg),
		report.WithTimeout(rc.Timeout),
		report.WithPublisherLogger(a.logger))
	defer p.Close()

	return p.Publish(cmd.Context(), rep)
}
