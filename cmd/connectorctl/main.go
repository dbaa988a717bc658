package main

import (
	"log"

	"github.com/austindbirch/harbor_connect/cmd/connectorctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
