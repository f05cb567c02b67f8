// Command bundlercore runs the ERC-4337 bundler core as a standalone JSON-RPC service.
package main

func main() {
	Execute()
}
