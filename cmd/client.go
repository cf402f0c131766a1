package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/mezonai/mmn-aa/jsonx"
)

var nodeURL string

func init() {
	rootCmd.PersistentFlags().StringVarP(&nodeURL, "node-url", "u", "http://localhost:8545", "JSON-RPC endpoint of the node")
}

func newRPCClient() *jrpc2.Client {
	url := nodeURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return jrpc2.NewClient(jhttp.NewChannel(url, nil), nil)
}

func call(ctx context.Context, method string, params, result any) error {
	cli := newRPCClient()
	defer cli.Close()
	if err := cli.CallResult(ctx, method, params, result); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func printJSON(v any) error {
	out, err := jsonx.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
