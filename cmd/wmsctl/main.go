// wmsctl is the operations CLI for the warehouse backend.
//
// Usage (from backend directory):
//
//	DB_DRIVER=mysql DB_USER=... DB_PASSWORD=... DB_HOST=... DB_NAME=... go run ./cmd/wmsctl migrate
//	go run ./cmd/wmsctl seed -f seed.yaml
//	go run ./cmd/wmsctl rules import rules.yaml
//	go run ./cmd/wmsctl assign plan 11 12 13
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
