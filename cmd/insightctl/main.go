// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// insightctl is the command-line client for the Aleutian Insight server.
//
// Usage:
//
//	insightctl route "how is foot traffic trending near downtown?"
//	insightctl route                       # interactive prompt on a TTY
//	insightctl explain "compare demographics across regions"
//	insightctl endpoints
//
// The server address comes from --server or INSIGHT_SERVER_URL, defaulting
// to http://localhost:8080.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	serverFlag  string
	datasetFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "insightctl",
		Short: "Client for the Aleutian Insight routing server",
		Long: "insightctl routes analytical questions through a running Aleutian Insight\n" +
			"server and renders the resulting decisions.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Insight server URL (default: INSIGHT_SERVER_URL or http://localhost:8080)")

	routeCmd := &cobra.Command{
		Use:   "route [question]",
		Short: "Route a question to an analysis endpoint",
		RunE:  runRouteCommand,
	}
	routeCmd.Flags().StringVar(&datasetFlag, "dataset", "", "Dataset id (default: server's default dataset)")

	explainCmd := &cobra.Command{
		Use:   "explain [question]",
		Short: "Dry-run a question and show the full score breakdown",
		RunE:  runExplainCommand,
	}

	endpointsCmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List the catalog of analysis endpoints",
		RunE:  runEndpointsCommand,
	}

	rootCmd.AddCommand(routeCmd, explainCmd, endpointsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveQuestion joins positional args, or prompts interactively when no
// args were given and stdin is a TTY.
func resolveQuestion(args []string) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question != "" {
		return question, nil
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("no question given (pass it as an argument, or run on a terminal for a prompt)")
	}

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("What do you want to analyze?").
			Placeholder("e.g. how is foot traffic trending near downtown?").
			Value(&question),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}
	return question, nil
}

func runRouteCommand(_ *cobra.Command, args []string) error {
	question, err := resolveQuestion(args)
	if err != nil {
		return err
	}

	client := newClient(serverFlag)
	decision, err := withSpinner("Routing", func() (*decisionResponse, error) {
		return client.route(question, datasetFlag)
	})
	if err != nil {
		return err
	}

	fmt.Println(renderDecision(question, decision, false))
	return nil
}

func runExplainCommand(_ *cobra.Command, args []string) error {
	question, err := resolveQuestion(args)
	if err != nil {
		return err
	}

	client := newClient(serverFlag)
	decision, err := withSpinner("Scoring", func() (*decisionResponse, error) {
		return client.explain(question)
	})
	if err != nil {
		return err
	}

	fmt.Println(renderDecision(question, decision, true))
	return nil
}

func runEndpointsCommand(_ *cobra.Command, _ []string) error {
	client := newClient(serverFlag)
	catalog, err := withSpinner("Fetching catalog", func() (*catalogResponse, error) {
		return client.endpoints()
	})
	if err != nil {
		return err
	}

	fmt.Println(renderCatalog(catalog))
	return nil
}
