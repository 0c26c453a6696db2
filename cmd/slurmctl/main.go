// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command slurmctl is the operator CLI front-end for the controller's RPC
// surface: cobra subcommands wrapped around internal/rpcclient, with the
// process exit code mapped through rpcclient.ExitCode.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/slurmctld/core/internal/rpcclient"
	"github.com/slurmctld/core/pkg/auth"
)

// titleCaser renders wire-format state strings (e.g. "node_fail") as
// operator-facing titles, locale-stable via golang.org/x/text/cases.
var titleCaser = cases.Title(language.AmericanEnglish)

func titleState(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

var (
	controllerURL string
	token         string
	outputJSON    bool

	rootCmd = &cobra.Command{
		Use:   "slurmctl",
		Short: "Operator CLI for the cluster workload controller",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&controllerURL, "url", os.Getenv("SLURMCTLD_URL"), "controller RPC base URL (env: SLURMCTLD_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SLURMCTLD_TOKEN"), "auth token (env: SLURMCTLD_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "emit JSON instead of a table")

	rootCmd.AddCommand(pingCmd, jobsCmd, nodesCmd, partitionsCmd, reconfigureCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsSubmitCmd, jobsCancelCmd)
	nodesCmd.AddCommand(nodesListCmd)
	partitionsCmd.AddCommand(partitionsListCmd)
}

func client() (*rpcclient.Client, error) {
	if controllerURL == "" {
		return nil, fmt.Errorf("controller URL is required (use --url or SLURMCTLD_URL)")
	}
	var authProvider auth.Provider
	if token != "" {
		authProvider = auth.NewTokenAuth(token)
	} else {
		authProvider = auth.NewNoAuth()
	}
	return rpcclient.New(controllerURL, authProvider), nil
}

func printResult(v any) {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}
	fmt.Printf("%+v\n", v)
}

// fail prints the error and exits with the CLI's exit-code convention
// via rpcclient.ExitCode.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "slurmctl:", err)
	os.Exit(rpcclient.ExitCode(err))
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check controller liveness",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			fail(err)
		}
		fmt.Println("ok")
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Trigger a configuration reload",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Reconfigure(ctx); err != nil {
			fail(err)
		}
		fmt.Println("reconfigure accepted")
	},
}

var jobsCmd = &cobra.Command{Use: "jobs", Short: "Inspect and manage jobs"}

var jobsPartition string

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobs, err := c.ListJobs(ctx, jobsPartition)
		if err != nil {
			fail(err)
		}
		if outputJSON {
			printResult(jobs)
			return
		}
		for _, j := range jobs {
			fmt.Printf("%-8d %-20s %-12s %s\n", j.JobID, j.Name, titleState(string(j.State)), j.StateReason)
		}
	},
}

var (
	submitName      string
	submitAccount   string
	submitUser      string
	submitPartition string
	submitNumProcs  int32
	submitNumNodes  int32
	submitTimeLimit int32
)

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobID, err := c.SubmitJob(ctx, rpcclient.SubmitJobRequest{
			Name:      submitName,
			Account:   submitAccount,
			User:      submitUser,
			Partition: submitPartition,
			NumProcs:  submitNumProcs,
			NumNodes:  submitNumNodes,
			TimeLimit: submitTimeLimit,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println(jobID)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		var jobID int64
		if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
			fail(fmt.Errorf("invalid job id %q", args[0]))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.CancelJob(ctx, jobID); err != nil {
			fail(err)
		}
		fmt.Println("cancelled")
	},
}

var nodesCmd = &cobra.Command{Use: "nodes", Short: "Inspect nodes"}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		nodes, err := c.ListNodes(ctx)
		if err != nil {
			fail(err)
		}
		printResult(nodes)
	},
}

var partitionsCmd = &cobra.Command{Use: "partitions", Short: "Inspect partitions"}

var partitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List partitions",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := client()
		if err != nil {
			fail(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		parts, err := c.ListPartitions(ctx)
		if err != nil {
			fail(err)
		}
		printResult(parts)
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsPartition, "partition", "", "filter by partition")

	jobsSubmitCmd.Flags().StringVar(&submitName, "name", "", "job name")
	jobsSubmitCmd.Flags().StringVar(&submitAccount, "account", "", "charge account")
	jobsSubmitCmd.Flags().StringVar(&submitUser, "user", "", "submitting user")
	jobsSubmitCmd.Flags().StringVar(&submitPartition, "partition", "", "target partition")
	jobsSubmitCmd.Flags().Int32Var(&submitNumProcs, "procs", 1, "requested processor count")
	jobsSubmitCmd.Flags().Int32Var(&submitNumNodes, "nodes", 1, "requested node count")
	jobsSubmitCmd.Flags().Int32Var(&submitTimeLimit, "time-limit", 60, "time limit in minutes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}
