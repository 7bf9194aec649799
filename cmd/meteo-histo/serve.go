package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/meteo-histo/internal/api/http"
	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/scheduler"
	"github.com/i474232898/meteo-histo/internal/store"
)

func (a *app) runServe(args []string) error {
	fs := newFlagSet("serve")
	port := fs.String("port", a.cfg.Server.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cache := store.NewArchiveCache(a.archives, a.cfg.Storage.CacheEntries, a.cfg.Storage.CacheMaxAge)

	// Periodic refresh of configured stations.
	if a.cfg.Scheduler.Enabled {
		if err := a.requireClient(); err != nil {
			return err
		}
		stations := make([]climate.StationID, 0, len(a.cfg.Pipeline.Stations))
		for _, s := range a.cfg.Pipeline.Stations {
			stations = append(stations, climate.StationID(s))
		}
		sched := scheduler.New(stations, a.cfg.Scheduler.Interval, a.cfg.Scheduler.Timeout, a.service, a.archives.Layout(), cache, a.log)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "meteo-histo",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "meteo-histo",
		})
	})

	httpapi.RegisterRoutes(app, cache, a.archives.Layout(), a.registry)

	go func() {
		if err := app.Listen(":" + *port); err != nil {
			a.log.Errorf("fiber server stopped: %v", err)
		}
	}()
	a.log.Infof("listening on :%s", *port)

	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.log.Errorf("error during shutdown: %v", err)
	}
	return nil
}
