package main

import (
	"github.com/ColonelBlimp/audiobridge/cmd"
	"github.com/ColonelBlimp/audiobridge/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
