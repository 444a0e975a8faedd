package main

import (
	"log"

	"flow-triggers/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
