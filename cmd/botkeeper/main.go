package main

import (
	"os"

	"github.com/bnema/botkeeper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
