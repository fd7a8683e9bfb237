package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("service=minitransfer msg=%q err=%v", "command_failed", err)
		os.Exit(1)
	}
}
