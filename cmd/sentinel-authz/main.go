// Command sentinel-authz is an access-control decision service.
package main

import "github.com/Sentinel-Gate/Sentinelauthz/cmd/sentinel-authz/cmd"

func main() {
	cmd.Execute()
}
