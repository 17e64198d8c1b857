package main

import (
	"flag"
	"log"

	approuters "github.com/Worldstreet-team/worldstreet-academy-sub003/internal/app_routers"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/configuration"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	flag.Parse()

	container, err := configuration.BuildContainer(*configPath)
	if err != nil {
		log.Fatalf("failed to build container: %v", err)
	}

	// StartServer blocks and closes the container during shutdown.
	approuters.StartServer(container)
}
