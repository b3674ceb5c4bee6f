package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tcmartin/pipelinestudio/pkg/client"
	"github.com/tcmartin/pipelinestudio/pkg/graph"
	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/models"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/routes"
	"github.com/tcmartin/pipelinestudio/pkg/runtime"
	"github.com/tcmartin/pipelinestudio/pkg/services"
	"github.com/tcmartin/pipelinestudio/pkg/trace"
)

// loadPipeline reads a pipeline file, or the built-in pipeline when path is empty
func loadPipeline(reg *registry.Registry, path string) (graph.Pipeline, string, error) {
	if path == "" {
		p, err := loader.DefaultPipeline(reg)
		return p, "default", err
	}
	def, err := loader.NewLoader(reg).LoadFile(path)
	if err != nil {
		return graph.Pipeline{}, "", err
	}
	name := def.Metadata.Name
	if name == "" {
		name = path
	}
	return def.Pipeline(), name, nil
}

// loadRegistry returns the node registry, with overrides applied when path is set
func loadRegistry(overrides string) (*registry.Registry, error) {
	reg := registry.Default()
	if overrides == "" {
		return reg, nil
	}
	return reg.LoadOverrides(overrides)
}

func newValidateCmd() *cobra.Command {
	var overrides string
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a pipeline document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(overrides)
			if err != nil {
				return err
			}
			p, name, err := loadPipeline(reg, args[0])
			if err != nil {
				return err
			}
			levels, err := graph.Levels(p.NodeIDs(), p.Edges)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %q is valid: %d nodes, %d edges, %d levels\n",
				name, len(p.Nodes), len(p.Edges), len(levels))
			return nil
		},
	}
	cmd.Flags().StringVar(&overrides, "overrides", "", "Registry overrides file")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var route string
	cmd := &cobra.Command{
		Use:   "schedule [file]",
		Short: "Print the execution levels of a pipeline",
		Long:  "Print the execution levels of a pipeline. Without a file the built-in pipeline is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			p, _, err := loadPipeline(reg, path)
			if err != nil {
				return err
			}
			if route != "" {
				active, known := trace.ActiveNodeTypesForRoute(route)
				if !known {
					return fmt.Errorf("unknown route %q", route)
				}
				p = p.Subgraph(func(n graph.Node) bool { return active.Has(n.Type) })
			}

			levels, err := graph.Levels(p.NodeIDs(), p.Edges)
			out := cmd.OutOrStdout()
			for i, level := range levels {
				fmt.Fprintf(out, "level %d: %s\n", i, strings.Join(level, ", "))
			}
			var schedErr *graph.SchedulingError
			if errors.As(err, &schedErr) {
				fmt.Fprintf(out, "unscheduled: %s\n", strings.Join(schedErr.Unscheduled, ", "))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&route, "route", "", "Only schedule the nodes active on this route")
	return cmd
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the semantic router routes and the node types they skip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := routes.Default()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUTE\tACTIVE\tSKIPPED")
			for _, r := range table.Routes() {
				active, err := table.ActiveNodeTypes(r)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", r, len(active), strings.Join(table.SkippedTypes(r).Sorted(), ","))
			}
			return tw.Flush()
		},
	}
}

func newExportCmd() *cobra.Command {
	var format, name, output string
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export a pipeline as YAML or JSON",
		Long:  "Export a pipeline as YAML or JSON. Without a file the built-in pipeline is exported.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			p, loadedName, err := loadPipeline(reg, path)
			if err != nil {
				return err
			}
			if name == "" {
				name = loadedName
			}
			if output != "" && !cmd.Flags().Changed("format") {
				format = output
			}
			data, err := loader.Export(p, loader.PipelineMetadata{Name: name}, format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml or json)")
	cmd.Flags().StringVar(&name, "name", "", "Pipeline name written to the metadata")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

// runFlags configures a local run
type runFlags struct {
	mode       string
	pipeline   string
	overrides  string
	backend    string
	apiKey     string
	route      string
	levelCapMs int
	user       string
	tenant     string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Execute a query locally and print node updates as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runLocal(ctx, cmd.OutOrStdout(), f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", string(models.ModeDemo), "Execution mode (demo, live or stream)")
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "Pipeline file (defaults to the built-in pipeline)")
	cmd.Flags().StringVar(&f.overrides, "overrides", "", "Registry overrides file")
	cmd.Flags().StringVar(&f.backend, "backend", os.Getenv("PIPELINESTUDIO_BACKEND_URL"), "Pipeline backend URL for live and stream modes")
	cmd.Flags().StringVar(&f.apiKey, "api-key", os.Getenv("PIPELINESTUDIO_BACKEND_API_KEY"), "Pipeline backend API key")
	cmd.Flags().StringVar(&f.route, "route", "", "Force the demo route instead of drawing one")
	cmd.Flags().IntVar(&f.levelCapMs, "level-cap-ms", 0, "Cap on the wall-clock wait of one demo level")
	cmd.Flags().StringVar(&f.user, "user", "cli", "User ID sent with the query")
	cmd.Flags().StringVar(&f.tenant, "tenant", "default", "Tenant ID sent with the query")
	return cmd
}

func runLocal(ctx context.Context, out io.Writer, f *runFlags, query string) error {
	mode := models.Mode(f.mode)
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", runtime.ErrUnknownMode, f.mode)
	}

	reg, err := loadRegistry(f.overrides)
	if err != nil {
		return err
	}
	p, _, err := loadPipeline(reg, f.pipeline)
	if err != nil {
		return err
	}

	store := runtime.NewExecutionStore()
	store.LoadPipeline(p)

	timing := runtime.DefaultTiming()
	if f.levelCapMs > 0 {
		timing.LevelCap = time.Duration(f.levelCapMs) * time.Millisecond
	}
	opts := []runtime.Option{runtime.WithTiming(timing)}
	if f.backend != "" {
		opts = append(opts, runtime.WithBackend(client.New(f.backend,
			client.WithAPIKey(f.apiKey),
			client.WithStreamFallback(true),
		)))
	}
	if f.route != "" {
		if _, known := trace.ActiveNodeTypesForRoute(f.route); !known {
			return fmt.Errorf("unknown route %q", f.route)
		}
		picker, err := routes.NewPicker([]routes.Weight{{Route: f.route, Weight: 1}}, nil)
		if err != nil {
			return err
		}
		opts = append(opts, runtime.WithPicker(picker))
	}
	executor := runtime.NewExecutor(store, reg, opts...)

	events, unsub := store.Subscribe(512)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	runID, err := executor.Execute(ctx, runtime.Request{Query: query, Mode: mode, UserID: f.user, TenantID: f.tenant})
	unsub()
	<-printed
	if err != nil {
		return err
	}

	run, ok := store.Run(runID)
	if !ok {
		return fmt.Errorf("run %s was not recorded", runID)
	}
	printRun(out, run)
	if run.Status == models.RunError {
		return fmt.Errorf("run failed: %s", run.Error)
	}
	return nil
}

func printEvent(w io.Writer, ev models.Event) {
	switch ev.Type {
	case models.EventRunStarted:
		fmt.Fprintf(w, "run %s started\n", ev.RunID)
	case models.EventNodeUpdated:
		if ev.Node == nil {
			return
		}
		line := fmt.Sprintf("  %-22s %s", ev.NodeID, ev.Node.Status)
		if ev.Node.LatencyMs != nil {
			line += fmt.Sprintf(" %.0fms", *ev.Node.LatencyMs)
		}
		if ev.Node.SkipReason != "" {
			line += " (" + ev.Node.SkipReason + ")"
		}
		if ev.Node.Error != "" {
			line += " error: " + ev.Node.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printRun(w io.Writer, run models.ExecutionRun) {
	fmt.Fprintf(w, "status:  %s\n", run.Status)
	if run.Route != "" {
		fmt.Fprintf(w, "route:   %s\n", run.Route)
	}
	fmt.Fprintf(w, "latency: %.2fms\n", run.TotalLatencyMs)
	fmt.Fprintf(w, "cost:    $%.6f\n", run.TotalCost)
	if run.Response != "" {
		fmt.Fprintf(w, "response:\n%s\n", run.Response)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", run.Error)
	}
}

func newTokenCmd() *cobra.Command {
	var secret, user, tenant string
	var hours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the server's JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a JWT secret is required (--secret or PIPELINESTUDIO_JWT_SECRET)")
			}
			token, err := services.NewTokenService(secret, hours).GenerateToken(user, tenant)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("PIPELINESTUDIO_JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&user, "user", "", "User ID")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant ID")
	cmd.Flags().IntVar(&hours, "hours", 24, "Token lifetime in hours")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
