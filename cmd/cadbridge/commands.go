package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cadbridge/internal/bridge"
	"cadbridge/internal/config"
	"cadbridge/internal/logging"
	"cadbridge/internal/onshape"
	"cadbridge/internal/orchestrator"
	"cadbridge/internal/shared/async"
	"cadbridge/internal/thumbnails"
	"cadbridge/internal/tokenstore"
)

func newLoginCommand(a *app) *cobra.Command {
	var username string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session cookies",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			if username == "" && passwordStdin {
				if rec, ok := c.Tokens.Current(); ok {
					username = rec.Username
				}
			}
			user, password, err := credentials(username, passwordStdin, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			token, err := orchestrator.Await(ctx, func(ok func(onshape.AuthToken), fail orchestrator.FailureFunc) {
				c.Client.Authenticate(ctx, user, password, ok, fail)
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := c.Tokens.Save(ctx, tokenstore.Record{Username: user, Token: token}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successLine("Logged in as "+user))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			if err := c.Tokens.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successLine("Session cleared"))
			return nil
		}),
	}
}

func newSessionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Check whether the saved session is still valid",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			rec, ok := c.Tokens.Current()
			if !ok {
				return &ExitCodeError{Code: exitAuthRequired, Err: fmt.Errorf("not logged in; run cadbridge login")}
			}
			ctx := cmd.Context()
			_, err = orchestrator.Await(ctx, func(ok func(struct{}), fail orchestrator.FailureFunc) {
				c.Client.CheckSession(ctx, func() { ok(struct{}{}) }, fail)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successLine("Session active for "+rec.Username))
			fmt.Fprintln(cmd.OutOrStdout(), hintLine("saved "+rec.SavedAt.Local().Format("2006-01-02 15:04")))
			return nil
		}),
	}
}

func newDocumentsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "documents [query]",
		Short: "List recently modified documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			ctx := cmd.Context()
			docs, err := orchestrator.Await(ctx, func(ok func([]onshape.DocumentSummary), fail orchestrator.FailureFunc) {
				c.Client.ListDocuments(ctx, query, ok, fail)
			})
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []string{d.Name, d.ID, d.WorkspaceID, d.ModifiedByName, d.ModifiedAt})
			}
			renderTable(cmd.OutOrStdout(), []string{"NAME", "DOCUMENT", "WORKSPACE", "MODIFIED BY", "MODIFIED"}, rows)
			return nil
		}),
	}
}

func newElementsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "elements <document-id> <workspace-id>",
		Short: "List the elements of a document workspace",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			elements, err := orchestrator.Await(ctx, func(ok func([]onshape.ElementSummary), fail orchestrator.FailureFunc) {
				c.Client.ListElements(ctx, args[0], args[1], ok, fail)
			})
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(elements))
			for _, e := range elements {
				rows = append(rows, []string{e.Name, e.ID, e.Type})
			}
			renderTable(cmd.OutOrStdout(), []string{"NAME", "ELEMENT", "TYPE"}, rows)
			return nil
		}),
	}
}

func newPartsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parts <document-id> <workspace-id> <element-id>",
		Short: "List the part ids of a part studio",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ref := onshape.ElementRef{DocumentID: args[0], WorkspaceID: args[1], ElementID: args[2]}
			ids, err := orchestrator.Await(ctx, func(ok func([]string), fail orchestrator.FailureFunc) {
				c.Client.ListPartIDs(ctx, ref, ok, fail)
			})
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
}

// exportFlags binds the tessellation flags shared by export and prefs set.
func exportFlags(cmd *cobra.Command, opts *onshape.ExportOptions) {
	cmd.Flags().StringVar(&opts.Scale, "scale", "", "Scale factor")
	cmd.Flags().StringVar(&opts.Units, "units", "", "Units (meter, millimeter, inch, ... or Default)")
	cmd.Flags().StringVar(&opts.AngleTolerance, "angle", "", "Angle tolerance in radians")
	cmd.Flags().StringVar(&opts.ChordTolerance, "chord", "", "Chord tolerance")
	cmd.Flags().StringVar(&opts.MaxFacetWidth, "max-facet", "", "Maximum facet width")
	cmd.Flags().StringVar(&opts.MinFacetWidth, "min-facet", "", "Minimum facet width")
}

func newExportCommand(a *app) *cobra.Command {
	var opts onshape.ExportOptions
	var elementType, output string
	cmd := &cobra.Command{
		Use:   "export <document-id> <workspace-id> <element-id>",
		Short: "Export an element as an STL mesh",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ref := onshape.ElementRef{DocumentID: args[0], WorkspaceID: args[1], ElementID: args[2]}
			merged := opts.Merge(c.Config.Export)
			stl, err := orchestrator.Await(ctx, func(ok func([]byte), fail orchestrator.FailureFunc) {
				c.Client.ExportElementSTL(ctx, ref, elementType, merged, ok, fail)
			})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(stl)
				return err
			}
			if err := os.WriteFile(output, stl, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), successLine(fmt.Sprintf("Wrote %d bytes to %s", len(stl), output)))
			return nil
		}),
	}
	exportFlags(cmd, &opts)
	cmd.Flags().StringVarP(&elementType, "type", "t", onshape.ElementTypePartStudio, "Element type (PARTSTUDIO or ASSEMBLY)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newThumbnailCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "thumbnail <href>",
		Short: "Download a thumbnail image",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			c, err := a.init(cmd, nil)
			if err != nil {
				return err
			}
			dataURL, err := c.Thumbnails.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), dataURL)
				return nil
			}
			image, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, thumbnails.DataURLPrefix))
			if err != nil {
				return fmt.Errorf("decode thumbnail: %w", err)
			}
			if err := os.WriteFile(output, image, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), successLine("Wrote "+output))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the decoded image to this file instead of printing a data URL")
	return cmd
}

func newPrefsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change export defaults",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show export defaults",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.WithConfigPath(a.flags.configPath))
			if err != nil {
				return err
			}
			printExport(cmd, loaded.Export)
			fmt.Fprintln(cmd.OutOrStdout(), hintLine("config: "+loaded.Path))
			return nil
		}),
	}

	var opts onshape.ExportOptions
	set := &cobra.Command{
		Use:   "set",
		Short: "Persist export defaults",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.WithConfigPath(a.flags.configPath))
			if err != nil {
				return err
			}
			merged := opts.Merge(loaded.Export)
			if err := config.SaveExportDefaults(loaded.Path, merged); err != nil {
				return err
			}
			printExport(cmd, merged)
			fmt.Fprintln(cmd.OutOrStdout(), successLine("Saved to "+loaded.Path))
			return nil
		}),
	}
	exportFlags(set, &opts)

	cmd.AddCommand(show, set)
	return cmd
}

func printExport(cmd *cobra.Command, opts onshape.ExportOptions) {
	rows := [][]string{
		{"scale", opts.Scale},
		{"units", opts.Units},
		{"angle", opts.AngleTolerance},
		{"chord", opts.ChordTolerance},
		{"max_facet", opts.MaxFacetWidth},
		{"min_facet", opts.MinFacetWidth},
	}
	renderTable(cmd.OutOrStdout(), []string{"KEY", "VALUE"}, rows)
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	var prefetch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local JSON and WebSocket bridge",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			loop := async.NewLoop(panicLogger("event-loop"))
			c, err := a.init(cmd, loop)
			if err != nil {
				return err
			}
			// The loop outlives ctx so completions arriving during the HTTP
			// shutdown still resolve; Stop drains it once Start returns.
			async.Go(panicLogger("serve"), "completion-loop", func() { loop.Run(context.WithoutCancel(ctx)) })
			defer loop.Stop()

			if addr == "" {
				addr = c.Config.Bridge.Addr
			}
			srv, err := bridge.NewServer(bridge.Dependencies{
				Client:     c.Client,
				Thumbnails: c.Thumbnails,
				Tokens:     c.Tokens,
				Gatherer:   c.Registry,
				Logger:     logging.NewComponentLogger("bridge"),
			}, bridge.Config{
				Addr:               addr,
				CORSOrigins:        c.Config.Bridge.CORS,
				ExportDefaults:     c.Config.Export,
				Debug:              a.flags.debug,
				PrefetchThumbnails: prefetch,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), successLine("Bridge listening on http://"+addr))
			return srv.Start(ctx)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default bridge.addr)")
	cmd.Flags().BoolVar(&prefetch, "prefetch", true, "Prefetch thumbnails of listed items")
	return cmd
}

// panicLogger resolves the component logger when a panic is reported, after
// the container has installed the configured default.
type panicLogger string

func (p panicLogger) Error(format string, args ...any) {
	logging.NewComponentLogger(string(p)).Error(format, args...)
}
