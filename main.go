package main

import "github.com/vibast-solutions/lib-go-lock/cmd"

func main() {
	cmd.Execute()
}
