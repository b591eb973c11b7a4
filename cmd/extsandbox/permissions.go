package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// permissionsCmd groups commands over remembered capability decisions.
var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage remembered capability decisions",
	Long:  `List, revoke and reset the allow-always and deny-always answers given at capability prompts.`,
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(newPermissionsListCmd(), newPermissionsRevokeCmd(), newPermissionsResetCmd())
}

func newPermissionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List remembered decisions",
		Example: `  extsandbox permissions list`,
		Args:    cobra.NoArgs,
		RunE: withContainer(nil, func(ctx *CommandContext, cmd *cobra.Command, _ []string) error {
			return writePermissions(cmd.OutOrStdout(), ctx.Container.Permissions().List())
		}),
	}
}

func writePermissions(w io.Writer, records []ports.PermissionRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No remembered decisions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, "EXTENSION\tCAPABILITY\tDECISION"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ExtensionID, r.Capability, r.Decision); err != nil {
			return fmt.Errorf("failed to write permission: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func newPermissionsRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "revoke <extension>",
		Short:   "Forget every decision for one extension",
		Example: `  extsandbox permissions revoke git-guard`,
		Args:    cobra.ExactArgs(1),
		RunE: withContainer(nil, func(ctx *CommandContext, cmd *cobra.Command, args []string) error {
			if err := ctx.Container.Permissions().RevokeExtension(args[0]); err != nil {
				return fmt.Errorf("failed to revoke permissions: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Revoked decisions for %s.\n", args[0])
			return err
		}),
	}
}

func newPermissionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Forget every remembered decision",
		Example: `  extsandbox permissions reset`,
		Args:    cobra.NoArgs,
		RunE: withContainer(nil, func(ctx *CommandContext, cmd *cobra.Command, _ []string) error {
			if err := ctx.Container.Permissions().Reset(); err != nil {
				return fmt.Errorf("failed to reset permissions: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "All remembered decisions cleared.")
			return err
		}),
	}
}
