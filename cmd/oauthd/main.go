// oauthd is a standalone OAuth 2.0 authorization server for local
// development and integration testing.
package main

import (
	"fmt"
	"os"
)

// Build-time variables set via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
