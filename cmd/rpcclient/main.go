// Command rpcclient sends a JSON-RPC call to an rpcserve endpoint and prints
// the response.
//
//	rpcclient call --method math.Add --params '[1,2]'
//	rpcclient call --get --base64 --method system.Echo --params '{"message":"hi"}'
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnehpets/rpcserve/rpchttp"
)

func main() {
	root := &cobra.Command{
		Use:   "rpcclient",
		Short: "JSON-RPC over HTTP client for rpcserve",
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newCallCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCallCmd() *cobra.Command {
	var (
		endpoint    string
		contentType string
		timeout     time.Duration
		cr          callRequest
		params      string
		auth        authOptions
		failOnError bool
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Send one call and print the response body",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cr.Method == "" {
				return fmt.Errorf("--method is required")
			}
			if params != "" {
				cr.Params = []byte(params)
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			client := newRPCClient(endpoint, contentType, auth.httpClient(ctx))
			res, err := client.Call(ctx, cr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "HTTP %d\n", res.Status)
			if len(res.Body) > 0 {
				fmt.Fprintf(out, "%s", res.Body)
			}
			if failOnError && res.Status != http.StatusOK {
				return fmt.Errorf("call failed with HTTP status %d", res.Status)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&endpoint, "url", "http://localhost:8080/rpc", "RPC endpoint URL")
	f.StringVar(&contentType, "content-type", rpchttp.DefaultContentType, "content type of POST requests")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	f.StringVarP(&cr.Method, "method", "m", "", "method name")
	f.StringVar(&cr.ID, "id", "1", "request id as a JSON literal; empty sends a notification")
	f.StringVarP(&params, "params", "p", "", "params as a JSON array or object")
	f.BoolVar(&cr.GET, "get", false, "send the call as GET query parameters")
	f.BoolVar(&cr.Base64, "base64", false, "base64 encode params of a GET call")
	f.BoolVar(&failOnError, "fail", false, "exit non-zero unless the HTTP status is 200")
	f.StringVar(&auth.Token, "token", os.Getenv("RPCCLIENT_TOKEN"), "bearer token")
	f.StringVar(&auth.TokenURL, "token-url", "", "OAuth2 token endpoint for client credentials")
	f.StringVar(&auth.ClientID, "client-id", "", "OAuth2 client id")
	f.StringVar(&auth.ClientSecret, "client-secret", os.Getenv("RPCCLIENT_CLIENT_SECRET"), "OAuth2 client secret")
	f.StringSliceVar(&auth.Scopes, "scopes", []string{"openid"}, "OAuth2 scopes")
	return cmd
}
