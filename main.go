package main

import "github.com/dnitsch/awsome-broker/cmd"

func main() {
	cmd.Execute()
}
