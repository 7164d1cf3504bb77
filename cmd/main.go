package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/microsandbox/msbcore/catalog"
	"github.com/microsandbox/msbcore/credentials"
	"github.com/microsandbox/msbcore/image"
	msbtypes "github.com/microsandbox/msbcore/internal/types"
	"github.com/microsandbox/msbcore/reference"
	"github.com/microsandbox/msbcore/registry"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		home     string
		platform string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "msbcore",
		Short: "msbcore - OCI image pulling for the microsandbox core",
		Long: `msbcore resolves OCI image references, authenticates against a registry,
downloads manifests and layers, and extracts layers into a content-addressed
store that a microVM launcher can mount directly.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&home, "home", "", "microsandbox home directory (default: $MICROSANDBOX_HOME or ~/.microsandbox)")
	cmd.PersistentFlags().StringVar(&platform, "platform", "linux/amd64", "target platform (os/arch[/variant])")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newPullCommand(&home, &platform))
	cmd.AddCommand(newLoginCommand(&home))
	cmd.AddCommand(newLogoutCommand(&home))
	cmd.AddCommand(newImagesCommand(&home))
	cmd.AddCommand(newBlobCommand(&home))

	return cmd
}

func newPullCommand(home, platform *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <reference>",
		Short: "Pull an image and extract its layers",
		Long:  "Resolve an image reference, download any layers not already cached, and extract them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := image.PullOptions{
				Home:     *home,
				Platform: msbtypes.ParsePlatform(*platform),
				Log:      logrus.StandardLogger(),
			}

			result, err := image.Pull(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}

			fmt.Printf("Pulled %s\n", result.Reference)
			fmt.Printf("Layers: %d\n", len(result.Layers))
			for _, l := range result.Layers {
				status := "downloaded"
				if l.AlreadyInCache {
					status = "cached"
				}
				fmt.Printf("  %s (%s)\n", l.Digest, status)
			}

			return nil
		},
	}

	return cmd
}

func newLoginCommand(home *string) *cobra.Command {
	var (
		username string
		password string
		token    string
	)

	cmd := &cobra.Command{
		Use:   "login <registry>",
		Short: "Store credentials for a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]

			homeDir, err := resolveHome(*home)
			if err != nil {
				return err
			}

			if password == "" && token == "" {
				password, err = promptPassword()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			var creds credentials.StoredCredentials
			switch {
			case token != "":
				creds = credentials.Bearer(token)
			case username != "":
				creds = credentials.Basic(username, password)
			default:
				return fmt.Errorf("either --username/--password or --token is required")
			}

			store := credentials.NewStore(homeDir)
			if err := store.Store(host, creds); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Printf("Credentials stored for %s\n", host)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "registry username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "registry password (prompted if omitted)")
	cmd.Flags().StringVar(&token, "token", "", "registry bearer token, instead of username/password")

	return cmd
}

func newLogoutCommand(home *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout <registry>",
		Short: "Remove stored credentials for a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			homeDir, err := resolveHome(*home)
			if err != nil {
				return err
			}

			store := credentials.NewStore(homeDir)
			existed, err := store.Remove(args[0])
			if err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			if !existed {
				fmt.Printf("No stored credentials for %s\n", args[0])
				return nil
			}

			fmt.Printf("Removed credentials for %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func newImagesCommand(home *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Inspect pulled images",
	}

	cmd.AddCommand(newImagesListCommand(home))
	cmd.AddCommand(newImagesRemoveCommand(home))

	return cmd
}

func newImagesListCommand(home *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List images recorded in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeDir, err := resolveHome(*home)
			if err != nil {
				return err
			}

			cat, err := openCatalog(homeDir)
			if err != nil {
				return err
			}
			defer cat.Close()

			refs, err := cat.ListImages()
			if err != nil {
				return fmt.Errorf("failed to list images: %w", err)
			}

			sort.Strings(refs)
			for _, ref := range refs {
				fmt.Println(ref)
			}
			return nil
		},
	}

	return cmd
}

func newImagesRemoveCommand(home *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <reference>",
		Short: "Remove an image's catalog row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			homeDir, err := resolveHome(*home)
			if err != nil {
				return err
			}

			ref, err := reference.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid reference: %w", err)
			}

			cat, err := openCatalog(homeDir)
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.RemoveImage(ref.Render()); err != nil {
				return fmt.Errorf("failed to remove image: %w", err)
			}

			fmt.Printf("Removed %s from catalog\n", ref.Render())
			return nil
		},
	}

	return cmd
}

func newBlobCommand(home *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Inspect blobs directly from a registry",
	}

	cmd.AddCommand(newBlobCatCommand(home))

	return cmd
}

func newBlobCatCommand(home *string) *cobra.Command {
	var (
		start int64
		end   int64
	)

	cmd := &cobra.Command{
		Use:   "cat <reference> <digest>",
		Short: "Stream a single blob's raw bytes to stdout",
		Long: `Stream a single blob's raw bytes to stdout, without pulling or
extracting anything. Useful for inspecting a manifest, config or layer
tar by digest, and supports resuming a partial read with --start.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			homeDir, err := resolveHome(*home)
			if err != nil {
				return err
			}

			ref, err := reference.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid reference: %w", err)
			}

			store := credentials.NewStore(homeDir)
			client := registry.NewClient(store, nil, nil, msbtypes.LinuxPlatform(), logrus.StandardLogger())

			rc, err := client.FetchDigestBlob(cmd.Context(), ref, args[1], start, end)
			if err != nil {
				return fmt.Errorf("failed to fetch blob: %w", err)
			}
			defer rc.Close()

			_, err = io.Copy(os.Stdout, rc)
			return err
		},
	}

	cmd.Flags().Int64Var(&start, "start", 0, "first byte to fetch (inclusive)")
	cmd.Flags().Int64Var(&end, "end", -1, "last byte to fetch (inclusive), -1 for the rest of the blob")

	return cmd
}

func resolveHome(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return image.Home()
}

func openCatalog(homeDir string) (*catalog.Catalog, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return catalog.Open(filepath.Join(homeDir, "oci.db"), logrus.StandardLogger())
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
