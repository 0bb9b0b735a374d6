package main

import (
	"github.com/ebalkanci/habita/backend"
	"github.com/ebalkanci/habita/frontend"
)

func main() {
	// Run the backend in the background and hand the terminal to the shell.
	go backend.RunBackend()
	frontend.RunFrontend()
}
