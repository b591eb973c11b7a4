package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/config"
)

// policyCmd groups capability policy commands.
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and scaffold capability policies",
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(newPolicyExplainCmd(), newPolicyInitCmd())
}

func newPolicyExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <extension> <capability>",
		Short: "Show how the policy decides a capability for an extension",
		Long: `Evaluate one capability for one extension against the active policy and
any remembered permission decisions, without prompting.`,
		Example: `  extsandbox policy explain git-guard exec
  extsandbox policy explain notes write --profile safe`,
		Args: cobra.ExactArgs(2),
		RunE: withContainer(nil, func(ctx *CommandContext, cmd *cobra.Command, args []string) error {
			capability := capabilities.Parse(args[1])
			if capability.IsEmpty() {
				return fmt.Errorf("invalid capability: %q", args[1])
			}
			check := ctx.Container.Gatekeeper().Explain(args[0], capability)
			return writeExplain(cmd.OutOrStdout(), ctx.Container.Policy().Profile().Name, args[0], check)
		}),
	}
}

func writeExplain(w io.Writer, profile, extensionID string, check capabilities.Check) error {
	_, err := fmt.Fprintf(w, "extension:  %s\ncapability: %s\nprofile:    %s\ndecision:   %s\nreason:     %s\n",
		extensionID, check.Capability, profile, check.Decision, check.Reason)
	return err
}

func newPolicyInitCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a policy file seeded from a built-in profile",
		Example: `  extsandbox policy init --profile safe -o ~/.extsandbox/policy.yaml
  extsandbox policy init > policy.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc, err := config.DefaultPolicy(viper.GetString("profile"))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outFile != "" {
				//nolint:gosec // G304: User-controlled output file path is intentional
				f, err := os.OpenFile(outFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("failed to create policy file: %w", err)
				}
				defer func() {
					_ = f.Close() // Best-effort cleanup
				}()
				w = f
			}
			return config.WritePolicy(w, pc)
		},
	}
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path (default: stdout)")
	return cmd
}
