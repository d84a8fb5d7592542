package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hoonpm/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{ConfigPath: configPath, Verbose: verbose})
	}

	cmd := &cobra.Command{
		Use:           "hoonpm",
		Short:         "Dependency resolver and package cache for Hoon sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newInitCmd(newSvc))
	cmd.AddCommand(newInstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newAddCmd(newSvc))
	cmd.AddCommand(newRemoveCmd(newSvc))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newTagsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRegistryCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newCacheCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newInitCmd(newSvc func() (*app.Service, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "init [name]",
		Short: "Scaffold a new library package",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			dir, err := svc.Init(cwd, name)
			if err != nil {
				return err
			}
			fmt.Printf("created library package in %s\n", dir)
			return nil
		},
	}
}

func newInstallCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Resolve and install the project's dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			res, err := svc.Install(cmd.Context(), cwd)
			if err != nil {
				return err
			}
			return print(*jsonOutput, res,
				fmt.Sprintf("installed %d packages, wrote %s", res.Installed, res.LockPath))
		},
	}
}

func newAddCmd(newSvc func() (*app.Service, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name@spec>",
		Short: "Add a dependency to hoon.toml",
		Long: "Add a dependency to hoon.toml. The spec may be a kelvin (k413),\n" +
			"a semver range (^1.2.0), latest, or commit:/tag:/branch: refs.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			name, err := svc.Add(cwd, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("added %s, run `hoonpm install` to install it\n", name)
			return nil
		},
	}
}

func newRemoveCmd(newSvc func() (*app.Service, error)) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a dependency and its installed files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			if err := svc.Remove(cwd, args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newListCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List declared dependencies and their install state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			deps, err := svc.List(cwd)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, deps, "")
			}
			if len(deps) == 0 {
				fmt.Println("no dependencies declared")
				return nil
			}
			for _, dep := range deps {
				state := "not installed"
				if dep.Installed {
					state = "installed " + dep.Version
				}
				fmt.Printf("- %s %s (%s)\n", dep.Name, dep.Spec, state)
			}
			return nil
		},
	}
}

func newTagsCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <git-url>",
		Short: "List a remote repository's tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			tags, err := svc.Tags(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, tags, "")
			}
			if len(tags) == 0 {
				fmt.Println("no tags")
				return nil
			}
			fmt.Println(strings.Join(tags, "\n"))
			return nil
		},
	}
}

func newRegistryCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	registryCmd := &cobra.Command{Use: "registry", Short: "Query the package registry"}

	lookupCmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Show the git coordinates a name resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			entry, ok := svc.RegistryLookup(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("package %q not found in registry", args[0])
			}
			if *jsonOutput {
				return print(true, entry, "")
			}
			fmt.Printf("url: %s\n", entry.GitURL)
			if entry.Path != "" {
				fmt.Printf("path: %s\n", entry.Path)
			}
			if entry.InstallPath != "" {
				fmt.Printf("install path: %s\n", entry.InstallPath)
			}
			if entry.File != "" {
				fmt.Printf("file: %s\n", entry.File)
			}
			return nil
		},
	}

	depsCmd := &cobra.Command{
		Use:   "deps <name>",
		Short: "Show the dependencies the registry declares for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			deps := svc.RegistryDeps(cmd.Context(), args[0])
			if *jsonOutput {
				return print(true, deps, "")
			}
			if len(deps) == 0 {
				fmt.Println("no registry dependencies")
				return nil
			}
			fmt.Println(strings.Join(deps, "\n"))
			return nil
		},
	}

	registryCmd.AddCommand(lookupCmd)
	registryCmd.AddCommand(depsCmd)
	return registryCmd
}

func newCacheCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect and maintain the package cache"}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			stats, err := svc.CacheStats()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, stats, "")
			}
			fmt.Printf("packages: %d (%d unique)\nsize: %.2f MB\n",
				stats.TotalPackages, stats.UniquePackages, stats.TotalSizeMB())
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached package versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			cached, err := svc.CacheList()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, cached, "")
			}
			if len(cached) == 0 {
				fmt.Println("cache is empty")
				return nil
			}
			for _, pkg := range cached {
				fmt.Printf("- %s %s (%s)\n", pkg.Name, pkg.VersionSpec, shortCommit(pkg.Commit))
			}
			return nil
		},
	}

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every cached package and clone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.CacheClean(); err != nil {
				return err
			}
			fmt.Println("cache cleaned")
			return nil
		},
	}

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop all but the newest versions of each cached package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.CachePrune(keep); err != nil {
				return err
			}
			fmt.Printf("pruned cache, kept up to %d versions per package\n", keep)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 2, "versions to keep per package")

	cacheCmd.AddCommand(statsCmd)
	cacheCmd.AddCommand(listCmd)
	cacheCmd.AddCommand(cleanCmd)
	cacheCmd.AddCommand(pruneCmd)
	return cacheCmd
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.Doctor(cmd.Context())
			if *jsonOutput {
				return print(true, report, "")
			}
			for _, f := range report.Findings {
				fmt.Printf("[%s] %s: %s\n", f.Level, f.Code, f.Message)
			}
			if !report.Healthy {
				return fmt.Errorf("environment is not healthy")
			}
			fmt.Println("environment looks healthy")
			return nil
		},
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
