package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskmcp-go/internal/prompt"
	"taskmcp-go/internal/secret"
)

// GetSecretsCommand returns the secrets management command
func GetSecretsCommand() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets stored in OS keyring",
		Long:  "Store, retrieve, and manage secrets using the operating system's secure keyring (Keychain on macOS, Secret Service on Linux, WinCred on Windows)",
	}

	secretsCmd.AddCommand(getSecretsSetCommand())
	secretsCmd.AddCommand(getSecretsGetCommand())
	secretsCmd.AddCommand(getSecretsDeleteCommand())
	secretsCmd.AddCommand(getSecretsListCommand())

	return secretsCmd
}

func getSecretsSetCommand() *cobra.Command {
	var (
		secretType string
		fromEnv    string
	)

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret in the keyring",
		Long:  "Store a secret in the OS keyring. If no value is provided, will prompt for input without echoing.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			var value string

			switch {
			case len(args) >= 2:
				value = args[1]
			case fromEnv != "":
				value = os.Getenv(fromEnv)
				if value == "" {
					return fmt.Errorf("environment variable %s is not set or empty", fromEnv)
				}
			default:
				var err error
				value, err = prompt.NewConsolePrompter().Secret("Enter secret value: ")
				if err != nil {
					return fmt.Errorf("failed to read secret value: %w", err)
				}
			}

			if value == "" {
				return fmt.Errorf("secret value cannot be empty")
			}

			resolver := secret.NewResolver()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ref := secret.Ref{
				Provider: secretType,
				Key:      name,
			}

			if err := resolver.Store(ctx, ref, value); err != nil {
				return fmt.Errorf("failed to store secret: %w", err)
			}

			fmt.Printf("Secret '%s' stored successfully in %s\n", name, secretType)
			fmt.Printf("Use in config: ${%s:%s}\n", secretType, name)

			return nil
		},
	}

	cmd.Flags().StringVar(&secretType, "type", "keyring", "Secret provider type (keyring, env)")
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read value from environment variable")

	return cmd
}

func getSecretsGetCommand() *cobra.Command {
	var (
		secretType string
		masked     bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Retrieve a secret from the keyring",
		Long:  "Retrieve a secret from the OS keyring. By default, output is masked for security.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			resolver := secret.NewResolver()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ref := secret.Ref{
				Provider: secretType,
				Key:      name,
			}

			value, err := resolver.Resolve(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to retrieve secret: %w", err)
			}

			if masked {
				fmt.Printf("%s: %s\n", name, secret.Mask(value))
			} else {
				fmt.Printf("%s: %s\n", name, value)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&secretType, "type", "keyring", "Secret provider type (keyring, env)")
	cmd.Flags().BoolVar(&masked, "masked", true, "Mask the secret value in output")

	return cmd
}

func getSecretsDeleteCommand() *cobra.Command {
	var (
		secretType string
		skipPrompt bool
	)

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			if !skipPrompt {
				ok, err := prompt.NewConsolePrompter().Confirm(fmt.Sprintf("Delete secret '%s' from %s?", name, secretType))
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if !ok {
					fmt.Println("Aborted")
					return nil
				}
			}

			resolver := secret.NewResolver()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ref := secret.Ref{
				Provider: secretType,
				Key:      name,
			}

			if err := resolver.Delete(ctx, ref); err != nil {
				return fmt.Errorf("failed to delete secret: %w", err)
			}

			fmt.Printf("Secret '%s' deleted successfully from %s\n", name, secretType)

			return nil
		},
	}

	cmd.Flags().StringVar(&secretType, "type", "keyring", "Secret provider type (keyring, env)")
	cmd.Flags().BoolVarP(&skipPrompt, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func getSecretsListCommand() *cobra.Command {
	var (
		jsonOutput bool
		allTypes   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all stored secrets",
		Long:  "List all secrets stored in available providers. Secret values are never displayed.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var refs []secret.Ref
			var err error

			if allTypes {
				refs, err = secret.NewResolver().ListAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to list secrets: %w", err)
				}
			} else {
				keyringProvider := secret.NewKeyringProvider()
				if !keyringProvider.Available() {
					return fmt.Errorf("keyring is not available on this system")
				}
				refs, err = keyringProvider.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list keyring secrets: %w", err)
				}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(refs)
			}

			if len(refs) == 0 {
				fmt.Println("No secrets found")
				return nil
			}

			fmt.Printf("Found %d secrets:\n", len(refs))
			for _, ref := range refs {
				fmt.Printf("  %s (%s)\n", ref.Key, ref.Provider)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&allTypes, "all", false, "List secrets from all available providers")

	return cmd
}
