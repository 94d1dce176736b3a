package main

import (
	"log"

	"github.com/providentiaww/mcp-oauth-gateway/cmd/oauth-server/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
