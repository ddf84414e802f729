package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/store"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage scraping sources",
	}
	cmd.AddCommand(
		newSourcesListCmd(),
		newSourcesAddCmd(),
		newSourcesEnableCmd(),
		newSourcesDisableCmd(),
		newSourcesRemoveCmd(),
	)
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			sources := app.store.Sources().List(nil)
			if len(sources) == 0 {
				fmt.Println("No sources configured.")
				return nil
			}
			sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

			for _, src := range sources {
				state := "enabled"
				if !src.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  %-30s %-8s %s\n", src.ID, src.Name, src.Kind, state)
				if src.LastError != "" {
					fmt.Printf("    last error: %s (failures: %d)\n", src.LastError, src.ConsecutiveFailures)
				}
			}
			return nil
		},
	}
}

func newSourcesAddCmd() *cobra.Command {
	var (
		kind     string
		url      string
		channel  string
		username string
		token    string
		maxItems int
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			sourceKind := store.SourceKind(strings.ToLower(kind))
			if !sourceKind.Valid() {
				return fmt.Errorf("unknown kind %q (expected channel, feed, page or profile)", kind)
			}

			source := store.Source{
				ID:               uuid.NewString(),
				Name:             args[0],
				Kind:             sourceKind,
				Enabled:          true,
				MaxItemsPerCycle: maxItems,
				Config: store.SourceConfig{
					URL:      url,
					Channel:  channel,
					Username: username,
				},
			}
			switch sourceKind {
			case store.KindChannel:
				source.Config.APIToken = token
			case store.KindProfile:
				source.Config.BearerToken = token
			}

			if err := app.store.Sources().Upsert(source.ID, source); err != nil {
				return fmt.Errorf("saving source: %w", err)
			}
			fmt.Printf("Added %s source %q (%s)\n", source.Kind, source.Name, source.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "feed", "source kind: channel, feed, page or profile")
	cmd.Flags().StringVar(&url, "url", "", "feed or page URL")
	cmd.Flags().StringVar(&channel, "channel", "", "channel username (channel kind)")
	cmd.Flags().StringVar(&username, "username", "", "profile username (profile kind)")
	cmd.Flags().StringVar(&token, "token", "", "API or bearer token")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "per-cycle item cap (0 uses the configured default)")
	return cmd
}

func newSourcesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSourceEnabled(args[0], true)
		},
	}
}

func newSourcesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSourceEnabled(args[0], false)
		},
	}
}

func setSourceEnabled(id string, enabled bool) error {
	app, err := loadApp()
	if err != nil {
		return err
	}
	defer debuglog.Close()

	source, ok := app.store.Sources().Get(id)
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}

	source.Enabled = enabled
	if err := app.store.Sources().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("saving source: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Source %q %s\n", source.Name, state)
	return nil
}

func newSourcesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			source, ok := app.store.Sources().Get(args[0])
			if !ok {
				return fmt.Errorf("source %s not found", args[0])
			}
			if err := app.store.Sources().Delete(source.ID); err != nil {
				return fmt.Errorf("removing source: %w", err)
			}
			fmt.Printf("Removed source %q\n", source.Name)
			return nil
		},
	}
}
