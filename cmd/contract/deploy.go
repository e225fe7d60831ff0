package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MaciejBaj/cargo-contract/bundle"
	"github.com/MaciejBaj/cargo-contract/deploy"
)

func (c *cli) newDeployCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "deploy <bundle>",
		Short: "Submit a packaged bundle through the registered submitter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Open(args[0])
			if err != nil {
				return err
			}

			sub, err := deploy.Default()
			if err != nil {
				return fmt.Errorf("deployment is not available in this build: %w", err)
			}

			res, err := sub.Submit(cmd.Context(), b, url)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "submitted via %s\n", sub.Name())
			fmt.Fprintf(out, "tx:        %s\n", res.TxHash)
			fmt.Fprintf(out, "code hash: %s\n", res.CodeHash)
			if res.Account != "" {
				fmt.Fprintf(out, "account:   %s\n", res.Account)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:9944", "node endpoint passed to the submitter")
	return cmd
}
