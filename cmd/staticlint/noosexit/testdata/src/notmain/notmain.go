package notmain

import (
	"log"
	"os"
)

func main() {
	log.Fatal("not the program entry point")
	os.Exit(1)
}
