package main

import "github.com/mindstand/go-bolt-connector/cmd"

func main() {
	cmd.Execute()
}
