// Command yieldmind runs the YieldMind rebalancing agent.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
