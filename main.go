package main

import "github.com/stackforge/auth-service/cmd"

func main() {
	cmd.Execute()
}
