package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/tollgate-labs/x402/client"
	"github.com/tollgate-labs/x402/types"
)

func checkCommand(args []string) {
	flags := flag.NewFlagSet("check", flag.ExitOnError)
	var resource string
	flags.StringVar(&resource, "resource", "", "URL of the resource to check (required)")
	flags.StringVar(&resource, "r", "", "URL of the resource to check (required)")
	flags.Parse(args)

	if resource == "" {
		fmt.Fprintln(os.Stderr, "Error: --resource is required")
		flags.PrintDefaults()
		os.Exit(1)
	}

	c := client.New(nil)
	resp, requirements, err := c.Check(context.Background(), http.MethodGet, resource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Resource: %s\n", resource)
	fmt.Printf("Status:   %d\n\n", resp.StatusCode)

	switch {
	case len(requirements) > 0:
		fmt.Println("Payment required. Accepts:")
		for i, req := range requirements {
			if i > 0 {
				fmt.Println("---")
			}
			printRequirement(&req)
		}
	case resp.StatusCode == http.StatusOK:
		fmt.Println("Resource is accessible without payment")
	default:
		fmt.Println("Resource is not payment-protected")
	}
}

func printRequirement(req *types.PaymentRequirements) {
	fmt.Printf("  Scheme:   %s\n", req.Scheme)
	fmt.Printf("  Network:  %s\n", req.Network)
	fmt.Printf("  Amount:   %s (atomic units)\n", req.MaxAmountRequired)
	fmt.Printf("  Asset:    %s\n", req.Asset)
	fmt.Printf("  Pay to:   %s\n", req.PayTo)
	fmt.Printf("  Timeout:  %ds\n", req.MaxTimeoutSeconds)
	if req.Description != "" {
		fmt.Printf("  About:    %s\n", req.Description)
	}
}
