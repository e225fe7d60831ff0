package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MaciejBaj/cargo-contract/pipeline"
	"github.com/MaciejBaj/cargo-contract/toolchain"
)

func contractDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func (c *cli) newPipeline() *pipeline.Pipeline {
	return pipeline.New(c.cfg, toolchain.NewCargo(c.log), c.log)
}

func (c *cli) newBuildCmd() *cobra.Command {
	var (
		noCache bool
		output  string
	)
	cmd := &cobra.Command{
		Use:   "build [contract-dir]",
		Short: "Compile, optimize, validate, and package a contract",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := contractDir(args)
			res, err := c.runPipeline(cmd.Context(), c.newPipeline(), pipeline.Request{
				ContractDir: dir,
				NoCache:     noCache,
			})
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = filepath.Join(dir, res.Interface.Name+".contract")
			}
			if err := res.Bundle.Store(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.CacheHit {
				fmt.Fprintln(out, "replayed from cache")
			} else {
				fmt.Fprintf(out, "optimized %d -> %d bytes\n",
					res.Stats.SizeBefore, res.Stats.SizeAfter)
			}
			fmt.Fprintf(out, "bundle:  %s\n", path)
			fmt.Fprintf(out, "digest:  %s\n", res.Bundle.DigestHex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "build even when a cached result exists")
	cmd.Flags().StringVarP(&output, "output", "o", "", "bundle destination (default <dir>/<name>.contract)")
	return cmd
}

func (c *cli) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [contract-dir]",
		Short: "Compile and validate without producing a bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.runPipeline(cmd.Context(), c.newPipeline(), pipeline.Request{
				ContractDir: contractDir(args),
				Mode:        pipeline.ModeCheck,
				NoCache:     true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contract is valid (code hash %x)\n",
				res.Artifact.CodeHash)
			return nil
		},
	}
}

func (c *cli) newMetadataCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate-metadata [contract-dir]",
		Short: "Extract and encode the contract's interface metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.runPipeline(cmd.Context(), c.newPipeline(), pipeline.Request{
				ContractDir: contractDir(args),
				Mode:        pipeline.ModeMetadata,
				NoCache:     true,
			})
			if err != nil {
				return err
			}

			jsonPath := filepath.Join(output, "metadata.json")
			binPath := filepath.Join(output, "metadata.bin")
			if err := os.WriteFile(jsonPath, res.Metadata.JSON, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(binPath, res.Metadata.Binary, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", jsonPath, binPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory for the metadata files")
	return cmd
}
