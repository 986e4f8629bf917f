package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silvershield/silvershield-backend/api/routes"
	"github.com/silvershield/silvershield-backend/internal/config"
	"github.com/silvershield/silvershield-backend/internal/handlers"
	"github.com/silvershield/silvershield-backend/internal/realtime"
	"github.com/silvershield/silvershield-backend/internal/repositories"
	mongorepo "github.com/silvershield/silvershield-backend/internal/repositories/mongodb"
	"github.com/silvershield/silvershield-backend/internal/services"
	"github.com/silvershield/silvershield-backend/pkg/mongodb"
	"github.com/silvershield/silvershield-backend/pkg/mpesa"
	"github.com/silvershield/silvershield-backend/pkg/paypal"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongodb.NewClient(connectCtx, cfg.MongoDB.URI)
	connectCancel()
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			slog.Error("Error disconnecting from MongoDB", "error", err)
		}
	}()

	db := mongoClient.Database(cfg.MongoDB.Database)

	var donationRepo repositories.DonationRepository = mongorepo.NewDonationRepository(db)

	// The fan-out hub has an explicit lifecycle: constructed here, passed by
	// reference to everything that publishes, torn down at shutdown.
	hub := realtime.NewHub()
	defer hub.Close()

	mpesaClient := mpesa.NewClient(cfg.Mpesa)
	paypalClient := paypal.NewClient(cfg.Paypal)

	donationService := services.NewDonationService(donationRepo, mpesaClient, paypalClient, hub)

	donationHandler := handlers.NewDonationHandler(donationService)
	realtimeHandler := handlers.NewRealtimeHandler(hub)

	handlerDeps := routes.HandlerDependencies{
		DonationHandler: donationHandler,
		RealtimeHandler: realtimeHandler,
	}

	router := routes.SetupRouter(cfg, mongoClient, handlerDeps)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exiting")
}
