package main

import (
	"log"

	"storefront-fulfillment/internal/app"
)

// @title Storefront Fulfillment API
// @version 1.0.0
// @description Payment confirmation, order fulfillment and shipment tracking for the storefront.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
