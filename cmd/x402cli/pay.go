package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tollgate-labs/x402/client"
	"github.com/tollgate-labs/x402/middleware"
	"github.com/tollgate-labs/x402/utils"
)

func payCommand(args []string) {
	flags := flag.NewFlagSet("pay", flag.ExitOnError)
	var resource, keyHex string
	flags.StringVar(&resource, "resource", "", "URL of the resource to pay for (required)")
	flags.StringVar(&resource, "r", "", "URL of the resource to pay for (required)")
	flags.StringVar(&keyHex, "key", "", "Hex-encoded private key (defaults to X402_PRIVATE_KEY)")
	flags.Parse(args)

	if resource == "" {
		fmt.Fprintln(os.Stderr, "Error: --resource is required")
		flags.PrintDefaults()
		os.Exit(1)
	}

	if keyHex == "" {
		keyHex = os.Getenv("X402_PRIVATE_KEY")
	}
	if keyHex == "" {
		fmt.Fprintln(os.Stderr, "Error: no private key (use --key or X402_PRIVATE_KEY)")
		os.Exit(1)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid private key: %v\n", err)
		os.Exit(1)
	}

	c := client.New(key)
	ctx := context.Background()

	resp, requirements, err := c.Check(ctx, http.MethodGet, resource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(requirements) == 0 {
		defer resp.Body.Close()
		fmt.Printf("No payment required (status %d)\n", resp.StatusCode)
		return
	}

	fmt.Printf("Paying %s atomic units on %s as %s\n",
		requirements[0].MaxAmountRequired, requirements[0].Network, c.Address())

	paidResp, err := c.Pay(ctx, http.MethodGet, resource, nil, &requirements[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer paidResp.Body.Close()

	body, err := io.ReadAll(paidResp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Status: %d\n", paidResp.StatusCode)
	if proof := paidResp.Header.Get(middleware.HeaderPaymentResponse); proof != "" {
		if settle, err := utils.DecodeSettleResponse(proof); err == nil {
			fmt.Printf("Settled: tx=%s network=%s payer=%s\n", settle.Transaction, settle.Network, settle.Payer)
		}
	}
	fmt.Println()
	os.Stdout.Write(body)
	fmt.Println()
}
