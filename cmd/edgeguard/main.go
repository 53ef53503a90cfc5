package main

import "github.com/kappakonnect/edgeguard/cmd/edgeguard/cmd"

func main() {
	cmd.Execute()
}
