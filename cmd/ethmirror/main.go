package main

import "github.com/vietddude/ethmirror/internal/cli"

func main() {
	cli.Execute()
}
