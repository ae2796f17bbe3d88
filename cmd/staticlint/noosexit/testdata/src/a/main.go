package main

import (
	"log"
	"os"
	stdos "os"
)

var exit = os.Exit

func cleanup(code int) {
	os.Exit(code)
}

func main() {
	defer cleanup(0)
	if len(os.Args) > 3 {
		log.Fatal("too many arguments") // want "avoid using log.Fatal in main.main"
	}
	if len(os.Args) > 2 {
		log.Fatalf("%d arguments", len(os.Args)) // want "avoid using log.Fatalf in main.main"
	}
	if len(os.Args) > 1 {
		stdos.Exit(2) // want "avoid using os.Exit in main.main"
	}
	go func() {
		os.Exit(3)
	}()
	log.Println("exiting")
	exit(0)
	os.Exit(1) // want "avoid using os.Exit in main.main"
}
