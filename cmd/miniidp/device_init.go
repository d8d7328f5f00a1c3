package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mini-idp/mini-idp/config"
)

type deviceInitOptions struct {
	clientID string
	scope    string
	resource string
}

// commandDeviceInit is a debug helper that starts a device authorization
// session against a running server and prints the user_code/verification
// URI an operator would hand to a device under test.
func commandDeviceInit() *cobra.Command {
	opts := deviceInitOptions{}

	cmd := &cobra.Command{
		Use:   "device-init",
		Short: "Initiate a device authorization session for debugging",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runDeviceInit(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.clientID, "client-id", "", "OAuth client id (required)")
	flags.StringVar(&opts.scope, "scope", "openid offline_access", "requested scope")
	flags.StringVar(&opts.resource, "resource", "", "resource URL (defaults to the issuer)")
	cmd.MarkFlagRequired("client-id")

	return cmd
}

func runDeviceInit(opts deviceInitOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("client_id", opts.clientID)
	form.Set("scope", opts.scope)

	endpoint := cfg.SelfRefURI + "oauth/device"
	if opts.resource != "" {
		endpoint += "?resource=" + url.QueryEscape(opts.resource)
	}

	resp, err := http.PostForm(endpoint, form)
	if err != nil {
		return fmt.Errorf("device-init: requesting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("device-init: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device-init: server returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("device-init: decoding response: %w", err)
	}

	fmt.Printf("user_code: %s\n", result.UserCode)
	fmt.Printf("verification_uri: %s\n", result.VerificationURI)
	fmt.Printf("verification_uri_complete: %s\n", result.VerificationURIComplete)
	fmt.Printf("expires_in: %ds\n", result.ExpiresIn)
	return nil
}
