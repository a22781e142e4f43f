package main

import (
	"context"
	"errors"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/flyshare/internal/coordinator"
	"github.com/Tyrowin/flyshare/internal/filestore"
	"github.com/Tyrowin/flyshare/internal/server"
)

func main() {
	log.Println("Starting FlyShare server...")

	if err := server.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	config := server.NewConfigFromEnv().Sanitize()

	files, err := filestore.New(config.UploadDir, config.MaxUploadSize)
	if err != nil {
		log.Fatalf("Failed to open upload store: %v", err)
	}
	log.Printf("Storing uploads in %s", files.Dir())

	coord := coordinator.New(config.CoordinatorOptions())
	coordCtx, stopCoordinator := context.WithCancel(context.Background())
	go coord.Run(coordCtx)

	relay, err := server.New(config, coord, files)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	httpServer := server.CreateServer(config.Port, relay.Routes())
	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Steps run in order inside one operation: stop accepting requests,
	// close WebSocket clients so their disconnects are applied, then stop
	// the coordinator.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				httpErr := server.ShutdownServer(ctx, httpServer)
				hubErr := relay.Hub().Shutdown(ctx)
				stopCoordinator()
				<-coord.Done()
				return errors.Join(httpErr, hubErr)
			},
		},
	)

	exitCode := <-wait
	log.Printf("FlyShare server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
