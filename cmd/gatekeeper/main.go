// Command gatekeeper runs the policy-enforcing tool gateway.
package main

import "github.com/toolgateway/gatekeeper/cmd/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
