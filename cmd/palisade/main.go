package main

import "github.com/jmcleod/palisade/cmd/palisade/cmd"

func main() {
	cmd.Execute()
}
