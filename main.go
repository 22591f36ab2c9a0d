package main

import (
	"log"

	"iap-reconciler/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
