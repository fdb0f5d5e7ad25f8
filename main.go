package main

import "github.com/deploymenttheory/go-firmboot/cmd"

func main() {
	cmd.Execute()
}
