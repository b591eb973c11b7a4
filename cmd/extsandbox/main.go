// Package main provides the extsandbox CLI for running agent extensions
// inside the capability-gated sandbox.
package main

func main() {
	Execute()
}
